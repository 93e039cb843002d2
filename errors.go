package rustext

import (
	"fmt"
	"strings"
)

// ConfigError reports a bad or duplicate extension descriptor. It is
// always raised before any process is spawned.
type ConfigError struct {
	Extension string // offending extension name, if known
	Msg       string
}

func (e *ConfigError) Error() string {
	if e.Extension != "" {
		return fmt.Sprintf("invalid extension %q: %s", e.Extension, e.Msg)
	}
	return fmt.Sprintf("invalid extension config: %s", e.Msg)
}

// ToolchainErrorKind discriminates toolchain failures so callers can give
// actionable messages (a missing cross target wants "rustup target add",
// not a compiler diagnostic).
type ToolchainErrorKind int

const (
	// ToolchainCompile is a non-zero cargo exit for an ordinary build.
	ToolchainCompile ToolchainErrorKind = iota

	// ToolchainMalformedOutput means the build-event stream could not be
	// parsed. This indicates a broken toolchain and is fatal even for
	// optional extensions.
	ToolchainMalformedOutput

	// ToolchainMissingTarget means the requested cross-compilation triple
	// is not in the installed target list.
	ToolchainMissingTarget

	// ToolchainMissing means cargo or rustc could not be executed at all.
	ToolchainMissing

	// ToolchainVersion means the installed rustc does not satisfy an
	// extension's version constraint.
	ToolchainVersion
)

// ToolchainError reports a failure of the native toolchain. The message
// carries the command line and captured output so the failure can be
// reproduced manually.
type ToolchainError struct {
	Extension string
	Kind      ToolchainErrorKind
	Command   string   // command line that was (or would have been) run
	Output    []string // captured machine-readable stdout, if any
	Err       error
}

func (e *ToolchainError) Error() string {
	var prefix string
	switch e.Kind {
	case ToolchainMalformedOutput:
		prefix = "cargo produced malformed build-event output"
	case ToolchainMissingTarget:
		prefix = "cross-compilation target not installed"
	case ToolchainMissing:
		prefix = "rust toolchain not available"
	case ToolchainVersion:
		prefix = "rustc version requirement not met"
	default:
		prefix = "cargo build failed"
	}
	if e.Extension != "" {
		prefix = fmt.Sprintf("%s for %q", prefix, e.Extension)
	}
	if e.Err != nil {
		prefix = fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	if e.Command != "" {
		prefix = fmt.Sprintf("%s\ncommand: %s", prefix, e.Command)
	}
	if len(e.Output) > 0 {
		return fmt.Sprintf("%s\n\nBuild output:\n%s", prefix, strings.Join(e.Output, "\n"))
	}
	return prefix
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// AbiError reports an unresolvable or ambiguous interpreter/ABI context.
// The resolver fails loudly rather than guess a suffix: a wrong suffix is
// an import-time crash, not a build-time one.
type AbiError struct {
	Msg string
}

func (e *AbiError) Error() string {
	return "cannot resolve extension ABI: " + e.Msg
}

// IoError reports a placement failure: copy, strip setup, mkdir or rename.
type IoError struct {
	Op   string // "copy", "rename", "mkdir", ...
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }
