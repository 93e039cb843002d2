package rustext

// Profile describes one build invocation's global settings.
//
// A single Profile applies to every RustExtension in a build call.
// It is treated as immutable: the orchestrator never modifies it, and
// callers must not mutate it while a build is running.
type Profile struct {
	// Release selects --release; the default is a debug build.
	Release bool

	// Target is a cross-compilation triple (e.g. "aarch64-unknown-linux-gnu").
	// Empty means "build for the host". When set, the triple must appear in
	// the installed toolchain target list or the build fails with a
	// missing-target error before cargo is started.
	Target string

	// Env contains extra environment variables appended to the inherited
	// environment of every cargo invocation.
	Env map[string]string

	// PythonExecutable, when set, is exported to cargo as PYO3_PYTHON and
	// its directory is prepended to PATH so build scripts that probe for an
	// interpreter find the one being built for.
	PythonExecutable string

	// Quiet suppresses the command echo printed before each cargo run.
	Quiet bool
}

// ArtifactKind classifies a compiled artifact reported by cargo.
type ArtifactKind string

const (
	KindCdylib    ArtifactKind = "cdylib"
	KindStaticlib ArtifactKind = "staticlib"
	KindBin       ArtifactKind = "bin"
)

// Artifact is one compiled binary reported by the toolchain's build-event
// stream. Artifacts are consumed once by placement and never retained
// across builds.
type Artifact struct {
	Extension  string       // name of the RustExtension that produced it
	Path       string       // absolute path inside cargo's target directory
	Kind       ArtifactKind // cdylib, staticlib or bin
	LinkedLibs []string     // native libraries linked by build scripts, if any
}

// ResolvedDestination is the placement decision for a single artifact:
// where it goes and what suffix it must carry. It is computed fresh on
// every build because the interpreter context can change between runs.
type ResolvedDestination struct {
	Path           string // final path inside the package tree
	Suffix         string // ABI suffix the file name carries
	RemoveExisting bool   // remove an existing file before the rename
}

// TargetStatus is the per-extension outcome of a build.
type TargetStatus int

const (
	StatusSucceeded TargetStatus = iota
	StatusFailed
	StatusSkippedOptional
)

func (s TargetStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkippedOptional:
		return "skipped (optional)"
	default:
		return "unknown"
	}
}

// Placement records one artifact copied to its final location.
type Placement struct {
	Extension string // owning extension name
	Source    string // artifact path in cargo's target directory
	Dest      string // final path inside the package tree
}

// TargetReport is the outcome for a single extension, in declaration order.
type TargetReport struct {
	Name   string
	Status TargetStatus
	Err    error // nil unless Status != StatusSucceeded
}

// BuildResult contains the outcome of one build invocation.
//
// Targets preserves the declaration order of the extensions regardless of
// the order in which concurrent cargo invocations completed. Placed lists
// every file copied into the destination tree, including files placed for
// targets that succeeded before a later hard failure. The result is owned
// by the caller once returned and is never reused by the builder.
type BuildResult struct {
	Targets  []TargetReport
	Placed   []Placement
	Warnings []string
	Err      error // first hard failure, nil on success
}

// Success reports whether every required extension built and was placed.
func (r *BuildResult) Success() bool {
	return r.Err == nil
}
