package rustext

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// InterpreterContext identifies the Python interpreter an extension is
// built for. It is supplied by the packaging collaborator (or queried via
// QueryInterpreter) and consumed by suffix resolution.
//
// Every field except LimitedAPI is required; the resolver refuses to
// guess. A wrong suffix is worse than a failed build: the artifact either
// becomes uninstallable or crashes at import time with a mismatched ABI.
type InterpreterContext struct {
	Implementation string // "cpython", "pypy", "graalpy"
	Major          int
	Minor          int

	// OS is the target operating system: "linux", "darwin" or "windows".
	OS string

	// SOABIPlatform is the platform portion of the SOABI tag, e.g.
	// "x86_64-linux-gnu" or "darwin". Unused on Windows.
	SOABIPlatform string

	// PointerWidth is 32 or 64; it selects win32 vs win_amd64 tags.
	PointerWidth int

	// LimitedAPI marks a context that only accepts limited-API modules.
	// Version-specific bindings are rejected against such a context.
	LimitedAPI bool
}

func (c InterpreterContext) validate() error {
	if c.Implementation == "" {
		return &AbiError{Msg: "interpreter implementation not set"}
	}
	if c.Major == 0 {
		return &AbiError{Msg: "interpreter version not set"}
	}
	switch c.OS {
	case "linux", "darwin", "windows":
	case "":
		return &AbiError{Msg: "target operating system not set"}
	default:
		return &AbiError{Msg: fmt.Sprintf("unknown target operating system %q", c.OS)}
	}
	if c.OS == "windows" {
		if c.PointerWidth != 32 && c.PointerWidth != 64 {
			return &AbiError{Msg: "pointer width required for windows targets"}
		}
	} else if c.SOABIPlatform == "" {
		return &AbiError{Msg: "SOABI platform tag not set"}
	}
	return nil
}

// implementationTag is the SOABI implementation prefix ("cpython-312"
// style on POSIX, "cp312" style on Windows).
func (c InterpreterContext) implementationTag() (string, error) {
	switch c.Implementation {
	case "cpython":
		return "cpython", nil
	case "pypy":
		return "pypy", nil
	case "graalpy":
		return "graalpy", nil
	default:
		return "", &AbiError{Msg: fmt.Sprintf("unknown interpreter implementation %q", c.Implementation)}
	}
}

// ResolveSuffix computes the filename suffix a compiled artifact must
// carry to be importable by the interpreter described by ctx.
//
// Version-independent bindings (abi3, cffi, uniffi) always resolve to the
// version-independent suffix, so the same artifact serves interpreters
// differing only in minor version. Version-specific bindings resolve to a
// version-tagged suffix and require a distinct build per interpreter.
func ResolveSuffix(binding Binding, ctx InterpreterContext) (string, error) {
	if binding == BindingExec {
		if ctx.OS == "windows" {
			return ".exe", nil
		}
		return "", nil
	}

	if err := ctx.validate(); err != nil {
		return "", err
	}

	if binding.VersionIndependent() {
		if ctx.OS == "windows" {
			return ".pyd", nil
		}
		return ".abi3.so", nil
	}

	if ctx.LimitedAPI {
		return "", &AbiError{Msg: fmt.Sprintf("binding %q is version-specific but the interpreter context only accepts limited-API modules", binding)}
	}

	tag, err := ctx.implementationTag()
	if err != nil {
		return "", err
	}

	if ctx.OS == "windows" {
		arch := "win_amd64"
		if ctx.PointerWidth == 32 {
			arch = "win32"
		}
		return fmt.Sprintf(".cp%d%d-%s.pyd", ctx.Major, ctx.Minor, arch), nil
	}

	return fmt.Sprintf(".%s-%d%d-%s.so", tag, ctx.Major, ctx.Minor, ctx.SOABIPlatform), nil
}

// ResolveDestination maps one artifact to its final location under
// destRoot, deriving the relative path from the extension's dotted module
// name and the suffix from the binding and interpreter context.
func ResolveDestination(ext *RustExtension, ctx InterpreterContext, destRoot string) (ResolvedDestination, error) {
	suffix, err := ResolveSuffix(ext.Binding, ctx)
	if err != nil {
		return ResolvedDestination{}, err
	}

	rel := ext.modulePath()
	if ext.Binding == BindingExec {
		rel = filepath.Join(filepath.Dir(rel), ext.baseName())
	}

	return ResolvedDestination{
		Path: filepath.Join(destRoot, rel+suffix),
		// Rename over an existing file is not atomic everywhere; Windows
		// needs the old file gone first.
		RemoveExisting: ctx.OS == "windows",
		Suffix:         suffix,
	}, nil
}

// interpreterProbe is the script QueryInterpreter runs inside the target
// interpreter. It prints one JSON object describing the running
// interpreter in InterpreterContext terms.
const interpreterProbe = `import json, platform, struct, sys, sysconfig
impl = {"CPython": "cpython", "PyPy": "pypy", "GraalVM": "graalpy"}.get(platform.python_implementation(), platform.python_implementation().lower())
soabi = sysconfig.get_config_var("SOABI") or ""
parts = soabi.split("-")
print(json.dumps({
    "implementation": impl,
    "major": sys.version_info[0],
    "minor": sys.version_info[1],
    "os": {"win32": "windows"}.get(sys.platform, "darwin" if sys.platform == "darwin" else "linux"),
    "soabi_platform": "-".join(parts[2:]) if len(parts) > 2 else "",
    "pointer_width": struct.calcsize("P") * 8,
}))`

// QueryInterpreter runs python and builds an InterpreterContext from what
// the interpreter reports about itself. This is the host-interpreter path;
// cross builds must supply the context explicitly since the target
// interpreter cannot be executed.
func QueryInterpreter(ctx context.Context, python string) (InterpreterContext, error) {
	return queryInterpreter(ctx, execRunner{}, python)
}

func queryInterpreter(ctx context.Context, run runner, python string) (InterpreterContext, error) {
	out, err := run.output(ctx, python, "-c", interpreterProbe)
	if err != nil {
		return InterpreterContext{}, &AbiError{Msg: fmt.Sprintf("cannot query interpreter %s: %v", python, err)}
	}

	var probe struct {
		Implementation string `json:"implementation"`
		Major          int    `json:"major"`
		Minor          int    `json:"minor"`
		OS             string `json:"os"`
		SOABIPlatform  string `json:"soabi_platform"`
		PointerWidth   int    `json:"pointer_width"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &probe); err != nil {
		return InterpreterContext{}, &AbiError{Msg: fmt.Sprintf("unparseable interpreter probe output: %v", err)}
	}

	interp := InterpreterContext{
		Implementation: probe.Implementation,
		Major:          probe.Major,
		Minor:          probe.Minor,
		OS:             probe.OS,
		SOABIPlatform:  probe.SOABIPlatform,
		PointerWidth:   probe.PointerWidth,
	}
	if err := interp.validate(); err != nil {
		return InterpreterContext{}, err
	}
	return interp, nil
}
