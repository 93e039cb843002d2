package rustext

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckToolAvailable(t *testing.T) {
	// The Go toolchain is present wherever these tests run.
	assert.NoError(t, CheckToolAvailable("go"))
	assert.Error(t, CheckToolAvailable("definitely-not-a-real-tool"))
}

func TestCheckRequiredTools(t *testing.T) {
	require.NoError(t, CheckRequiredTools(nil))

	require.NoError(t, CheckRequiredTools([]ToolRequirement{
		{Name: "go", Purpose: "Go toolchain"},
	}))

	// Alternatives satisfy a missing primary tool.
	require.NoError(t, CheckRequiredTools([]ToolRequirement{
		{Name: "definitely-not-a-real-tool", Alternatives: []string{"go"}},
	}))

	// Optional tools never fail the check.
	require.NoError(t, CheckRequiredTools([]ToolRequirement{
		{Name: "definitely-not-a-real-tool", Optional: true},
	}))

	err := CheckRequiredTools([]ToolRequirement{
		{Name: "definitely-not-a-real-tool", Purpose: "testing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitely-not-a-real-tool")
	assert.Contains(t, err.Error(), "testing")

	err = CheckRequiredTools([]ToolRequirement{
		{Name: "missing-tool-one"},
		{Name: "missing-tool-two"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required tools")
}

func TestCargoRequiredTools(t *testing.T) {
	cargo := NewCargo(zerolog.Nop())
	tools := cargo.RequiredTools()
	require.Len(t, tools, 3)

	names := make(map[string]bool)
	var optional []string
	for _, tool := range tools {
		names[tool.Name] = true
		if tool.Optional {
			optional = append(optional, tool.Name)
		}
	}
	assert.True(t, names["cargo"])
	assert.True(t, names["rustc"])
	assert.Equal(t, []string{"rustup"}, optional, "rustup must stay optional")
}
