package rustext

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// Cargo invokes the Rust toolchain and parses its build-event stream.
//
// Commands are run with stderr inherited, so compiler diagnostics stream
// live to the user, while stdout carries only the machine-readable JSON
// events requested with --message-format json-render-diagnostics. The
// event stream, not path conventions, is the source of truth for what was
// built and where.
type Cargo struct {
	log zerolog.Logger
	run runner
}

// NewCargo returns a Cargo invoker logging through log. Pass
// zerolog.Nop() to silence it.
func NewCargo(log zerolog.Logger) *Cargo {
	return &Cargo{log: log, run: execRunner{}}
}

// Name returns the toolchain name.
func (c *Cargo) Name() string { return "cargo" }

// cargoPath honors the CARGO override the same way cargo's own tooling
// does.
func (c *Cargo) cargoPath() string {
	if path := os.Getenv("CARGO"); path != "" {
		return path
	}
	return "cargo"
}

func (c *Cargo) rustcPath() string {
	if path := os.Getenv("RUSTC"); path != "" {
		return path
	}
	return "rustc"
}

// commandArgs builds the exact cargo command line for one extension.
// Extra descriptor arguments are passed through verbatim; escaping is the
// caller's responsibility.
func (c *Cargo) commandArgs(ext *RustExtension, profile Profile) []string {
	var args []string
	if ext.Binding == BindingExec {
		args = append(args, "build", "--bins")
	} else {
		args = append(args, "rustc", "--lib", "--crate-type", "cdylib")
	}

	args = append(args, "--manifest-path", ext.Path)
	args = append(args, "--message-format", "json-render-diagnostics")

	if profile.Release {
		args = append(args, "--release")
	}
	if profile.Target != "" {
		args = append(args, "--target", profile.Target)
	}

	// Use locked dependencies if the crate ships a Cargo.lock.
	if fileExists(filepath.Join(filepath.Dir(ext.Path), "Cargo.lock")) {
		args = append(args, "--locked")
	}

	if features := ext.featureList(); len(features) > 0 {
		args = append(args, "--features", strings.Join(features, " "))
	}

	args = append(args, ext.Args...)

	// Extension modules resolve interpreter symbols at load time on macOS.
	if ext.Binding != BindingExec && targetOS(profile) == "darwin" {
		args = append(args, "--", "-C", "link-arg=-Wl,-undefined,dynamic_lookup")
	}

	return args
}

// buildEnv is the inherited environment plus profile overrides. When an
// interpreter executable is pinned, its bindir is pushed to the front of
// PATH so crate build scripts probe the interpreter being built for.
func (c *Cargo) buildEnv(profile Profile) []string {
	env := os.Environ()
	for key, value := range profile.Env {
		env = append(env, key+"="+value)
	}
	if profile.PythonExecutable != "" {
		env = append(env,
			"PYO3_PYTHON="+profile.PythonExecutable,
			"PATH="+filepath.Dir(profile.PythonExecutable)+string(os.PathListSeparator)+os.Getenv("PATH"),
		)
	}
	return env
}

// Invoke compiles ext and returns the artifacts cargo reported for this
// crate. The event stream also reports every compiled dependency, so
// artifacts are matched against the crate's own target name from its
// manifest.
func (c *Cargo) Invoke(ctx context.Context, ext *RustExtension, profile Profile) ([]Artifact, error) {
	manifest, err := loadManifest(ext.Name, ext.Path)
	if err != nil {
		return nil, err
	}

	args := c.commandArgs(ext, profile)
	cmdline := commandString(c.cargoPath(), args)
	if !profile.Quiet {
		c.log.Info().Str("extension", ext.Name).Msg(cmdline)
	}

	stdout, wait, err := c.run.start(ctx, filepath.Dir(ext.Path), c.buildEnv(profile), c.cargoPath(), args...)
	if err != nil {
		return nil, &ToolchainError{
			Extension: ext.Name,
			Kind:      ToolchainMissing,
			Command:   cmdline,
			Err:       err,
		}
	}

	artifacts, consumed, parseErr := c.parseEvents(ext, manifest.targetName(), profile, stdout)
	stdout.Close()
	waitErr := wait()

	// A broken event stream outranks the exit status: it means the
	// toolchain contract itself is violated.
	if parseErr != nil {
		return nil, &ToolchainError{
			Extension: ext.Name,
			Kind:      ToolchainMalformedOutput,
			Command:   cmdline,
			Output:    consumed,
			Err:       parseErr,
		}
	}

	if waitErr != nil {
		kind := ToolchainCompile
		if errors.Is(waitErr, exec.ErrNotFound) {
			kind = ToolchainMissing
		}
		return nil, &ToolchainError{
			Extension: ext.Name,
			Kind:      kind,
			Command:   cmdline,
			Output:    consumed,
			Err:       waitErr,
		}
	}

	if len(artifacts) == 0 {
		return nil, &ToolchainError{
			Extension: ext.Name,
			Kind:      ToolchainCompile,
			Command:   cmdline,
			Output:    consumed,
			Err:       fmt.Errorf("cargo exited successfully but produced no %s artifact for crate %q", artifactWanted(ext.Binding), manifest.targetName()),
		}
	}

	return artifacts, nil
}

// cargoEvent is one line of cargo's JSON build-event stream. Only the
// fields this package consumes are decoded; unknown reasons are skipped
// for forward compatibility.
type cargoEvent struct {
	Reason    string `json:"reason"`
	PackageID string `json:"package_id"`
	Target    struct {
		Name string   `json:"name"`
		Kind []string `json:"kind"`
	} `json:"target"`
	Filenames  []string `json:"filenames"`
	Executable string   `json:"executable"`
	LinkedLibs []string `json:"linked_libs"`
	Success    *bool    `json:"success"`
}

// eventTailLines bounds the stdout capture carried in toolchain errors.
const eventTailLines = 50

// parseEvents consumes the NDJSON stream line by line and extracts this
// crate's artifacts. Any undecodable line aborts parsing: a toolchain
// that emits garbage on its machine-readable channel cannot be trusted.
// The second return value is the tail of consumed lines, kept for error
// reporting.
func (c *Cargo) parseEvents(ext *RustExtension, crateTarget string, profile Profile, stream io.Reader) ([]Artifact, []string, error) {
	scanner := bufio.NewScanner(stream)
	// Artifact events list every filename and can run long.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var artifacts []Artifact
	var linkedLibs []string
	var tail []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > eventTailLines {
			tail = tail[1:]
		}

		var event cargoEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, tail, fmt.Errorf("undecodable build event: %w", err)
		}
		if event.Reason == "" {
			return nil, tail, fmt.Errorf("build event without a reason discriminator")
		}

		switch event.Reason {
		case "compiler-artifact":
			artifacts = append(artifacts, c.matchArtifacts(ext, crateTarget, profile, event)...)
		case "build-script-executed":
			if packageIDMatches(event.PackageID, crateTarget) {
				linkedLibs = append(linkedLibs, event.LinkedLibs...)
			}
		case "build-finished":
			if event.Success != nil && !*event.Success {
				// The exit status carries the failure; nothing to record.
				c.log.Debug().Str("extension", ext.Name).Msg("cargo reported build-finished: failure")
			}
		default:
			// compiler-message and future event kinds.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, tail, fmt.Errorf("reading build events: %w", err)
	}

	for i := range artifacts {
		artifacts[i].LinkedLibs = uniqueStrings(linkedLibs)
	}
	return artifacts, tail, nil
}

// matchArtifacts extracts the artifacts belonging to this extension from a
// compiler-artifact event. Dependency crates report artifacts too; they
// are filtered out by target name.
func (c *Cargo) matchArtifacts(ext *RustExtension, crateTarget string, profile Profile, event cargoEvent) []Artifact {
	if ext.Binding == BindingExec {
		if event.Executable == "" || !hasKind(event.Target.Kind, "bin") {
			return nil
		}
		if !packageIDMatches(event.PackageID, crateTarget) {
			return nil
		}
		return []Artifact{{
			Extension: ext.Name,
			Path:      event.Executable,
			Kind:      KindBin,
		}}
	}

	if event.Target.Name != crateTarget {
		return nil
	}

	libExt := dylibExt(targetOS(profile))
	var out []Artifact
	for _, filename := range event.Filenames {
		if strings.HasSuffix(filename, libExt) {
			out = append(out, Artifact{
				Extension: ext.Name,
				Path:      filename,
				Kind:      KindCdylib,
			})
		} else if strings.HasSuffix(filename, staticlibExt(targetOS(profile))) {
			out = append(out, Artifact{
				Extension: ext.Name,
				Path:      filename,
				Kind:      KindStaticlib,
			})
		}
	}
	return out
}

// InstalledTargets queries rustup for the installed cross-compilation
// triples. The result is a snapshot for one build invocation; it is never
// cached process-wide because targets can be installed or removed between
// runs. A missing rustup yields an empty list and no error: some
// environments install targets without rustup, and cargo itself is then
// the authority.
func (c *Cargo) InstalledTargets(ctx context.Context) ([]string, error) {
	out, err := c.run.output(ctx, "rustup", "target", "list", "--installed")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			c.log.Debug().Msg("rustup not found; skipping installed-target check")
			return nil, nil
		}
		return nil, fmt.Errorf("rustup target list failed: %w", err)
	}

	var targets []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			targets = append(targets, line)
		}
	}
	return targets, nil
}

// RustcVersion queries the installed rustc version once. Used to enforce
// per-extension version constraints before any build starts.
func (c *Cargo) RustcVersion(ctx context.Context) (*semver.Version, error) {
	out, err := c.run.output(ctx, c.rustcPath(), "-V")
	if err != nil {
		return nil, fmt.Errorf("cannot run rustc: %w", err)
	}

	// Output looks like "rustc 1.79.0 (129f3b996 2024-06-10)".
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return nil, fmt.Errorf("unexpected rustc -V output: %q", strings.TrimSpace(string(out)))
	}
	version, err := semver.NewVersion(strings.TrimSuffix(fields[1], "-nightly"))
	if err != nil {
		return nil, fmt.Errorf("cannot parse rustc version %q: %w", fields[1], err)
	}
	return version, nil
}

// Clean removes cargo's build artifacts for one extension.
func (c *Cargo) Clean(ctx context.Context, ext *RustExtension) error {
	args := []string{"clean", "--manifest-path", ext.Path}
	stdout, wait, err := c.run.start(ctx, filepath.Dir(ext.Path), os.Environ(), c.cargoPath(), args...)
	if err != nil {
		return fmt.Errorf("cargo clean %s: %w", ext.Name, err)
	}
	io.Copy(io.Discard, stdout)
	stdout.Close()
	if err := wait(); err != nil {
		return fmt.Errorf("cargo clean %s: %w", ext.Name, err)
	}
	return nil
}

// RequiredTools declares the external tools cargo builds depend on.
func (c *Cargo) RequiredTools() []ToolRequirement {
	return []ToolRequirement{
		{Name: c.cargoPath(), Purpose: "Rust build tool"},
		{Name: c.rustcPath(), Purpose: "Rust compiler"},
		{Name: "rustup", Optional: true, Purpose: "toolchain manager, needed for cross-target checks"},
	}
}

// CheckTools verifies the Rust toolchain is reachable.
func (c *Cargo) CheckTools() error {
	return CheckRequiredTools(c.RequiredTools())
}

func artifactWanted(b Binding) ArtifactKind {
	if b == BindingExec {
		return KindBin
	}
	return KindCdylib
}

func hasKind(kinds []string, want string) bool {
	for _, kind := range kinds {
		if kind == want {
			return true
		}
	}
	return false
}

// packageIDMatches checks whether a cargo package_id refers to the crate.
// The package_id format differs across cargo versions ("name ver (url)"
// vs "url#name@ver"), so match on the normalized crate name appearing as
// a token.
func packageIDMatches(packageID, crateTarget string) bool {
	normalized := strings.NewReplacer("#", " ", "@", " ", "(", " ", ")", " ", "/", " ").Replace(packageID)
	for _, token := range strings.Fields(normalized) {
		if strings.ReplaceAll(token, "-", "_") == crateTarget {
			return true
		}
	}
	return false
}

// targetOS is the operating system of the build target: derived from the
// cross triple when one is set, otherwise the host.
func targetOS(profile Profile) string {
	if profile.Target == "" {
		return runtime.GOOS
	}
	switch {
	case strings.Contains(profile.Target, "darwin"):
		return "darwin"
	case strings.Contains(profile.Target, "windows"):
		return "windows"
	default:
		return "linux"
	}
}

func dylibExt(goos string) string {
	switch goos {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

func staticlibExt(goos string) string {
	if goos == "windows" {
		return ".lib"
	}
	return ".a"
}
