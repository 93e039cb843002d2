package rustext

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Placer copies compiled artifacts into the package tree.
//
// Artifacts are copied, never moved, so cargo's incremental cache stays
// intact for the next build. The copy is atomic: data lands in a
// temporary file in the destination directory and is renamed into place,
// so an interrupted build never leaves a half-written extension module
// importable.
type Placer struct {
	log zerolog.Logger
	run runner
}

// NewPlacer returns a Placer logging through log.
func NewPlacer(log zerolog.Logger) *Placer {
	return &Placer{log: log, run: execRunner{}}
}

// Place copies the artifact to dest. When strip is set, debug symbols are
// removed from the copy (never the original) before the rename. Stripping
// is best effort: a missing strip tool or a strip failure produces a
// warning, not an error, since the artifact is usable unstripped.
//
// Returns the final path and any warnings.
func (p *Placer) Place(ctx context.Context, artifact Artifact, dest ResolvedDestination, strip bool) (string, []string, error) {
	info, err := os.Stat(artifact.Path)
	if err != nil {
		return "", nil, &IoError{Op: "stat", Path: artifact.Path, Err: err}
	}

	dir := filepath.Dir(dest.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, &IoError{Op: "mkdir", Path: dir, Err: err}
	}

	// Temp file in the destination directory so the final rename stays on
	// one filesystem.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest.Path)+".tmp-*")
	if err != nil {
		return "", nil, &IoError{Op: "create", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := copyInto(tmp, artifact.Path); err != nil {
		tmp.Close()
		return "", nil, err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return "", nil, &IoError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", nil, &IoError{Op: "close", Path: tmpPath, Err: err}
	}

	var warnings []string
	if strip {
		if warn := p.stripCopy(ctx, tmpPath); warn != "" {
			p.log.Warn().Str("artifact", artifact.Path).Msg(warn)
			warnings = append(warnings, warn)
		}
	}

	if dest.RemoveExisting {
		if err := os.Remove(dest.Path); err != nil && !os.IsNotExist(err) {
			return "", warnings, &IoError{Op: "remove", Path: dest.Path, Err: err}
		}
	}
	if err := os.Rename(tmpPath, dest.Path); err != nil {
		return "", warnings, &IoError{Op: "rename", Path: dest.Path, Err: err}
	}

	p.log.Debug().Str("source", artifact.Path).Str("dest", dest.Path).Msg("placed artifact")
	return dest.Path, warnings, nil
}

func copyInto(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return &IoError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	if _, err := io.Copy(dst, in); err != nil {
		return &IoError{Op: "copy", Path: dst.Name(), Err: err}
	}
	return nil
}

// stripCopy removes debug symbols from path in place. Returns a warning
// message on failure, empty on success.
func (p *Placer) stripCopy(ctx context.Context, path string) string {
	tool, err := findStripTool()
	if err != nil {
		return fmt.Sprintf("cannot strip debug symbols: %s", err)
	}

	stdout, wait, err := p.run.start(ctx, "", os.Environ(), tool, "-x", path)
	if err != nil {
		return fmt.Sprintf("cannot run %s: %v", tool, err)
	}
	io.Copy(io.Discard, stdout)
	stdout.Close()
	if err := wait(); err != nil {
		return fmt.Sprintf("%s failed on %s: %v", tool, path, err)
	}
	return ""
}

func findStripTool() (string, error) {
	for _, tool := range []string{"strip", "llvm-strip"} {
		if _, err := exec.LookPath(tool); err == nil {
			return tool, nil
		}
	}
	return "", fmt.Errorf("no strip tool found in PATH")
}
