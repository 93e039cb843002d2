package rustext

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// cargoManifest is the subset of Cargo.toml the invoker needs: the crate's
// name (to pick this crate's artifacts out of an event stream that also
// reports every compiled dependency) and whether the manifest is a virtual
// workspace root, which has nothing to build.
type cargoManifest struct {
	Package *struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Lib *struct {
		Name      string   `toml:"name"`
		CrateType []string `toml:"crate-type"`
	} `toml:"lib"`
	Workspace *struct {
		Members []string `toml:"members"`
	} `toml:"workspace"`
}

// loadManifest reads and decodes the Cargo.toml at path. A missing or
// unreadable manifest is a ConfigError: descriptors defer this check to
// build time on purpose.
func loadManifest(extension, path string) (*cargoManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Extension: extension, Msg: fmt.Sprintf("cannot read manifest %s: %v", path, err)}
	}

	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, &ConfigError{Extension: extension, Msg: fmt.Sprintf("cannot parse manifest %s: %v", path, err)}
	}

	if manifest.Package == nil || manifest.Package.Name == "" {
		if manifest.Workspace != nil {
			return nil, &ConfigError{Extension: extension, Msg: fmt.Sprintf("%s is a virtual workspace manifest; point at a member crate instead", path)}
		}
		return nil, &ConfigError{Extension: extension, Msg: fmt.Sprintf("%s has no [package] section", path)}
	}

	return &manifest, nil
}

// targetName is the cargo target name whose artifacts belong to this
// crate: the explicit [lib] name if present, otherwise the package name.
// Cargo normalizes dashes to underscores in lib targets.
func (m *cargoManifest) targetName() string {
	if m.Lib != nil && m.Lib.Name != "" {
		return m.Lib.Name
	}
	return strings.ReplaceAll(m.Package.Name, "-", "_")
}
