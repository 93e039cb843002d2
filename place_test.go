package rustext

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, content string) Artifact {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "libnative.so")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return Artifact{Extension: "pkg._native", Path: path, Kind: KindCdylib}
}

func TestPlaceCopiesIntoTree(t *testing.T) {
	placer := NewPlacer(zerolog.Nop())
	artifact := writeArtifact(t, "native code")
	destRoot := t.TempDir()
	dest := ResolvedDestination{Path: filepath.Join(destRoot, "pkg", "_native.abi3.so")}

	final, warnings, err := placer.Place(context.Background(), artifact, dest, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, dest.Path, final)

	placed, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "native code", string(placed))

	// The source stays where cargo's incremental cache expects it.
	assert.True(t, fileExists(artifact.Path))

	info, err := os.Stat(final)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestPlaceIsIdempotent(t *testing.T) {
	placer := NewPlacer(zerolog.Nop())
	artifact := writeArtifact(t, "native code")
	destRoot := t.TempDir()
	dest := ResolvedDestination{Path: filepath.Join(destRoot, "_native.so")}

	_, _, err := placer.Place(context.Background(), artifact, dest, false)
	require.NoError(t, err)
	first, err := os.ReadFile(dest.Path)
	require.NoError(t, err)

	_, _, err = placer.Place(context.Background(), artifact, dest, false)
	require.NoError(t, err)
	second, err := os.ReadFile(dest.Path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPlaceOverwritesStaleFile(t *testing.T) {
	placer := NewPlacer(zerolog.Nop())
	artifact := writeArtifact(t, "fresh build")
	destRoot := t.TempDir()
	dest := ResolvedDestination{Path: filepath.Join(destRoot, "_native.so")}

	require.NoError(t, os.WriteFile(dest.Path, []byte("stale build"), 0o644))

	_, _, err := placer.Place(context.Background(), artifact, dest, false)
	require.NoError(t, err)

	placed, err := os.ReadFile(dest.Path)
	require.NoError(t, err)
	assert.Equal(t, "fresh build", string(placed))
}

func TestPlaceRemoveExisting(t *testing.T) {
	placer := NewPlacer(zerolog.Nop())
	artifact := writeArtifact(t, "fresh build")
	destRoot := t.TempDir()
	dest := ResolvedDestination{Path: filepath.Join(destRoot, "_native.pyd"), RemoveExisting: true}

	require.NoError(t, os.WriteFile(dest.Path, []byte("stale build"), 0o644))
	_, _, err := placer.Place(context.Background(), artifact, dest, false)
	require.NoError(t, err)

	placed, err := os.ReadFile(dest.Path)
	require.NoError(t, err)
	assert.Equal(t, "fresh build", string(placed))
}

func TestPlaceLeavesNoTempDebris(t *testing.T) {
	placer := NewPlacer(zerolog.Nop())
	artifact := writeArtifact(t, "native code")
	destRoot := t.TempDir()
	dest := ResolvedDestination{Path: filepath.Join(destRoot, "_native.so")}

	_, _, err := placer.Place(context.Background(), artifact, dest, false)
	require.NoError(t, err)

	entries, err := os.ReadDir(destRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "_native.so", entries[0].Name())
}

func TestPlaceMissingSource(t *testing.T) {
	placer := NewPlacer(zerolog.Nop())
	artifact := Artifact{Extension: "pkg._native", Path: "/nonexistent/lib.so", Kind: KindCdylib}
	dest := ResolvedDestination{Path: filepath.Join(t.TempDir(), "_native.so")}

	_, _, err := placer.Place(context.Background(), artifact, dest, false)
	var ioErr *IoError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "stat", ioErr.Op)
}

func TestPlaceStripFailureIsWarning(t *testing.T) {
	// Stripping a text file fails with every strip implementation, and a
	// machine without a strip tool takes the other warning path. Either
	// way the placement must still succeed.
	placer := NewPlacer(zerolog.Nop())
	artifact := writeArtifact(t, "definitely not an object file")
	dest := ResolvedDestination{Path: filepath.Join(t.TempDir(), "_native.so")}

	final, warnings, err := placer.Place(context.Background(), artifact, dest, true)
	require.NoError(t, err)
	assert.True(t, fileExists(final))
	if len(warnings) > 0 {
		assert.True(t, strings.Contains(warnings[0], "strip") || strings.Contains(warnings[0], "failed"))
	}
}
