// Package rustext builds Rust crates into Python extension modules.
//
// It bridges a Python packaging toolchain with cargo: given descriptors of
// one or more crates, it invokes cargo with the right flags for the
// current platform, interpreter and build profile, parses cargo's
// machine-readable build-event stream to discover the produced artifacts,
// and copies each artifact into the Python package tree under the file
// name the target interpreter's extension-module ABI requires.
//
// # Basic Usage
//
// Describe the extensions, then hand them to a Builder:
//
//	interp, err := rustext.QueryInterpreter(ctx, "python3")
//	if err != nil {
//	    return err
//	}
//
//	extensions := []*rustext.RustExtension{{
//	    Name:    "mypkg._native",
//	    Path:    "rust/Cargo.toml",
//	    Binding: rustext.BindingPyO3,
//	}}
//
//	builder := rustext.NewBuilder(logger, interp)
//	result, err := builder.Build(ctx, extensions, rustext.Profile{Release: true}, "build/lib")
//
// The BuildResult lists per-extension status in declaration order, every
// placed file, and any warnings (optional extensions that failed, strip
// tools that were missing). For editable installs, pass the source tree
// itself as the destination root; placement is identical.
//
// # Architecture
//
// Data flows strictly downward:
//
//	Builder (orchestration, parallelism, optionality policy)
//	├── Invoker / Cargo (command construction, build-event parsing)
//	├── ResolveSuffix / ResolveDestination (interpreter ABI naming)
//	└── Placer (atomic copy into the package tree, optional strip)
//
// Only the Builder knows about "many extensions"; everything below it
// handles one artifact at a time and reports every failure as an error.
// Whether a failure aborts the build or becomes a warning is decided by
// the Builder alone, based on the extension's Optional flag.
//
// # Cross-Compilation
//
// Set Profile.Target to a triple. The installed target list is snapshotted
// once per build via rustup; a missing triple fails with a distinct error
// kind so callers can suggest `rustup target add`. The interpreter context
// for a cross build must be supplied explicitly, since the target
// interpreter cannot be executed on the host.
//
// # Limitations
//
// A hung toolchain blocks indefinitely; this package imposes no timeouts
// beyond what the caller's context carries.
package rustext
