package rustext

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Binding identifies how a crate exposes symbols to the Python interpreter.
//
// The set is closed: validation rejects anything else. The binding decides
// the cargo subcommand, the artifact kind to look for, and whether the
// compiled module is importable across interpreter versions.
type Binding string

const (
	// BindingPyO3 is a version-specific PyO3 extension module.
	BindingPyO3 Binding = "pyo3"

	// BindingPyO3Abi3 is a PyO3 extension built against the limited API.
	// One artifact serves every supported interpreter version.
	BindingPyO3Abi3 Binding = "pyo3-abi3"

	// BindingCFFI is a plain cdylib loaded through cffi. Like abi3 it is
	// not tied to a specific interpreter version.
	BindingCFFI Binding = "cffi"

	// BindingUniFFI is a cdylib consumed through uniffi-generated bindings.
	BindingUniFFI Binding = "uniffi"

	// BindingExec is a binary target shipped inside the package tree.
	// Degenerate case: no extension-module suffix applies.
	BindingExec Binding = "exec"
)

// Valid reports whether b is one of the recognized binding kinds.
func (b Binding) Valid() bool {
	switch b {
	case BindingPyO3, BindingPyO3Abi3, BindingCFFI, BindingUniFFI, BindingExec:
		return true
	}
	return false
}

// VersionIndependent reports whether one compiled artifact serves every
// interpreter version, so the version-independent suffix applies and the
// build can be shared across interpreters.
func (b Binding) VersionIndependent() bool {
	switch b {
	case BindingPyO3Abi3, BindingCFFI, BindingUniFFI:
		return true
	}
	return false
}

// RustExtension describes one crate to compile into the package tree.
//
// Name is the full dotted Python name of the module ("pkg._native"), not a
// file name: the dotted path decides where the artifact lands inside the
// destination tree. Path points at the crate's Cargo.toml. The manifest is
// checked lazily at build time, never at construction, so descriptors can
// be declared before the source tree exists.
//
// A RustExtension is a value type: validate it once, then treat it as
// immutable. The same descriptor may be built concurrently with others.
type RustExtension struct {
	Name     string   // dotted Python module name, unique per build set
	Path     string   // path to Cargo.toml
	Binding  Binding  // how the crate exposes symbols
	Features []string // cargo features; a set, order-irrelevant
	Args     []string // extra cargo arguments, passed through verbatim

	// RustVersion is an optional semver constraint on the rustc version
	// (e.g. ">=1.74"). Checked once per build against `rustc -V`.
	RustVersion string

	// Optional downgrades any failure of this extension to a warning.
	Optional bool

	// Strip removes debug symbols from the placed copy, best effort.
	Strip bool
}

// Validate checks the fields that do not require filesystem access.
// Manifest existence is deliberately deferred to build time.
func (e *RustExtension) Validate() error {
	if e.Name == "" {
		return &ConfigError{Msg: "extension name must not be empty"}
	}
	if strings.ContainsAny(e.Name, "/\\") {
		return &ConfigError{Extension: e.Name, Msg: "extension name must be a dotted module name, not a path"}
	}
	if e.Path == "" {
		return &ConfigError{Extension: e.Name, Msg: "manifest path must not be empty"}
	}
	if filepath.Base(e.Path) != "Cargo.toml" {
		return &ConfigError{Extension: e.Name, Msg: fmt.Sprintf("manifest path must point at a Cargo.toml, got %q", e.Path)}
	}
	if !e.Binding.Valid() {
		return &ConfigError{Extension: e.Name, Msg: fmt.Sprintf("unrecognized binding kind %q", e.Binding)}
	}
	if e.RustVersion != "" {
		if _, err := semver.NewConstraint(e.RustVersion); err != nil {
			return &ConfigError{Extension: e.Name, Msg: fmt.Sprintf("invalid rust version constraint %q: %v", e.RustVersion, err)}
		}
	}
	return nil
}

// ValidateExtensions validates each descriptor and the set-level
// invariants: names must be unique, and no two descriptors may resolve to
// the same destination path. Two descriptors sharing a name with divergent
// feature sets are a configuration error, never silently merged.
func ValidateExtensions(exts []*RustExtension) error {
	seenName := make(map[string]*RustExtension, len(exts))
	seenDest := make(map[string]string, len(exts))

	for _, ext := range exts {
		if err := ext.Validate(); err != nil {
			return err
		}

		if prev, ok := seenName[ext.Name]; ok {
			if !sameFeatureSet(prev.Features, ext.Features) {
				return &ConfigError{Extension: ext.Name, Msg: "declared twice with divergent feature sets"}
			}
			return &ConfigError{Extension: ext.Name, Msg: "duplicate extension name"}
		}
		seenName[ext.Name] = ext

		dest := ext.modulePath()
		if other, ok := seenDest[dest]; ok {
			return &ConfigError{Extension: ext.Name, Msg: fmt.Sprintf("destination %q already claimed by extension %q", dest, other)}
		}
		seenDest[dest] = ext.Name
	}
	return nil
}

// modulePath converts the dotted module name to a relative path inside the
// destination tree, without any suffix.
func (e *RustExtension) modulePath() string {
	return filepath.FromSlash(strings.ReplaceAll(e.Name, ".", "/"))
}

// baseName is the last component of the dotted name: the file's base name.
func (e *RustExtension) baseName() string {
	if i := strings.LastIndex(e.Name, "."); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// featureList returns the deduplicated feature set in declaration order.
func (e *RustExtension) featureList() []string {
	return uniqueStrings(e.Features)
}

func sameFeatureSet(a, b []string) bool {
	as := uniqueStrings(a)
	bs := uniqueStrings(b)
	if len(as) != len(bs) {
		return false
	}
	set := make(map[string]struct{}, len(as))
	for _, f := range as {
		set[f] = struct{}{}
	}
	for _, f := range bs {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}
