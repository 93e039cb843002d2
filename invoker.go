package rustext

import "context"

// Invoker drives the native toolchain for a single extension.
//
// The production implementation is Cargo. The orchestrator only speaks to
// this interface, which keeps it testable against stub toolchains and
// keeps optionality policy out of the invoker: an Invoker reports every
// failure as an error and never knows whether the extension was optional.
//
// # Thread Safety
//
// Implementations must be stateless with respect to individual calls: the
// same Invoker instance is used for multiple extensions concurrently.
type Invoker interface {
	// Name returns the toolchain name used in logs and error messages.
	Name() string

	// Invoke compiles one extension under the given profile and returns
	// the artifacts the toolchain reported. A non-zero exit, a malformed
	// event stream, or an exit with no artifacts are all errors; the
	// caller decides whether an error is fatal.
	Invoke(ctx context.Context, ext *RustExtension, profile Profile) ([]Artifact, error)

	// InstalledTargets returns the cross-compilation triples currently
	// installed in the toolchain. Queried fresh per build invocation,
	// never cached, because the host environment can change between runs.
	InstalledTargets(ctx context.Context) ([]string, error)

	// Clean removes the toolchain's build artifacts for one extension.
	Clean(ctx context.Context, ext *RustExtension) error
}
