package rustext

import (
	"fmt"
	"os/exec"
	"strings"
)

// ToolChecker is an opt-in interface for invokers that depend on external
// tools. Check before building to fail fast with a readable message
// instead of a mid-build exec error:
//
//	if checker, ok := builder.Invoker.(ToolChecker); ok {
//	    if err := checker.CheckTools(); err != nil {
//	        return err
//	    }
//	}
type ToolChecker interface {
	// RequiredTools returns the tools the invoker needs.
	RequiredTools() []ToolRequirement

	// CheckTools verifies that all required tools are available. Optional
	// tools never cause an error.
	CheckTools() error
}

// ToolRequirement describes one external tool dependency.
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g. "cargo").
	Name string

	// Alternatives can satisfy the requirement when Name is absent.
	Alternatives []string

	// Optional tools are checked but never fail the build.
	Optional bool

	// Purpose is a human-readable reason the tool is needed.
	Purpose string
}

// CheckToolAvailable reports whether a tool is reachable via PATH.
func CheckToolAvailable(tool string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("%s not found in PATH", tool)
	}
	return nil
}

// CheckRequiredTools verifies a list of requirements and returns one error
// naming every missing required tool.
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missing []string

	for _, req := range requirements {
		found := CheckToolAvailable(req.Name) == nil
		if !found {
			for _, alt := range req.Alternatives {
				if CheckToolAvailable(alt) == nil {
					found = true
					break
				}
			}
		}
		if !found && !req.Optional {
			if req.Purpose != "" {
				missing = append(missing, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
			} else {
				missing = append(missing, req.Name)
			}
		}
	}

	switch len(missing) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s not found in PATH", missing[0])
	default:
		return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
	}
}
