package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ext(exts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}
	return m
}

func TestReachabilityCreateReleaseRoundTrips(t *testing.T) {
	compiler := ToolInfo{Name: "compiler", OutputFiles: ext(".o")}
	s := NewState([]ToolInfo{compiler})

	assert.False(t, s.IsOutputActive(".o"))
	s.CreateReachability(compiler)
	assert.True(t, s.IsOutputActive(".o"))
	s.CreateReachability(compiler)
	s.ReleaseReachability(compiler)
	assert.True(t, s.IsOutputActive(".o"), "second claim should keep it active")
	s.ReleaseReachability(compiler)
	assert.False(t, s.IsOutputActive(".o"))
}

func TestReleaseReachabilityNeverGoesNegative(t *testing.T) {
	compiler := ToolInfo{Name: "compiler", OutputFiles: ext(".o")}
	s := NewState([]ToolInfo{compiler})
	s.ReleaseReachability(compiler)
	assert.False(t, s.IsOutputActive(".o"))
}

func TestDeactivateToolIsIdempotent(t *testing.T) {
	s := NewState([]ToolInfo{{Name: "linker"}})
	require.True(t, s.IsToolActive("linker"))
	s.DeactivateTool("linker")
	assert.False(t, s.IsToolActive("linker"))
	assert.NotPanics(t, func() { s.DeactivateTool("linker") })
}

func TestHasAnyReachability(t *testing.T) {
	compiler := ToolInfo{Name: "compiler", OutputFiles: ext(".o")}
	s := NewState([]ToolInfo{compiler})
	assert.False(t, s.HasAnyReachability())
	s.CreateReachability(compiler)
	assert.True(t, s.HasAnyReachability())
}

func TestGetActiveToolsExcludesDeactivated(t *testing.T) {
	s := NewState([]ToolInfo{{Name: "a"}, {Name: "b"}})
	s.DeactivateTool("a")
	active := s.GetActiveTools()
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].Name)

	assert.Len(t, s.GetAllTools(), 2)
}

func TestGetToolsForFiltersByInputAndExclusion(t *testing.T) {
	compiler := ToolInfo{Name: "compiler", InputFiles: ext(".c")}
	other := ToolInfo{Name: "other", InputFiles: ext(".c")}
	s := NewState([]ToolInfo{compiler, other})

	found := s.GetToolsFor(".c", func(name string) bool { return name == "other" })
	require.Len(t, found, 1)
	assert.Equal(t, "compiler", found[0].Name)

	assert.Empty(t, s.GetToolsFor(".h", nil))
}

// CanCreateOutput is true when the tool itself lists ext among its
// OutputFiles, and false for an extension nothing produces.
func TestCanCreateOutputDirectMatch(t *testing.T) {
	linker := ToolInfo{Name: "linker", OutputFiles: ext(".exe")}
	s := NewState([]ToolInfo{linker})
	assert.True(t, s.CanCreateOutput(linker, ".exe"))
	assert.False(t, s.CanCreateOutput(linker, ".o"))
}

func TestCanCreateOutputTransitiveChain(t *testing.T) {
	compiler := ToolInfo{Name: "compiler", InputFiles: ext(".c"), OutputFiles: ext(".o")}
	linker := ToolInfo{Name: "linker", InputGroups: ext(".o"), OutputFiles: ext(".exe")}
	preprocessor := ToolInfo{Name: "pre", OutputFiles: ext(".c")}
	s := NewState([]ToolInfo{preprocessor, compiler, linker})

	assert.True(t, s.CanCreateOutput(preprocessor, ".o"), "pre -> compiler -> .o")
	assert.True(t, s.CanCreateOutput(preprocessor, ".exe"), "pre -> compiler -> linker -> .exe")
}

func TestCanCreateOutputAsymmetryNullInputToolIgnoresInputFiles(t *testing.T) {
	// A tool that declares InputFiles non-nil reads InputFiles ∪
	// InputGroups; a genuinely null-input tool (InputFiles == nil) reads
	// only InputGroups. generator has InputFiles == nil and InputGroups
	// naming ".stamp", so it must NOT be considered a reader of ".c" even
	// though another tool with the same OutputFiles would be if it had a
	// non-nil (even empty) InputFiles set naming ".c".
	generator := ToolInfo{Name: "generator", InputGroups: ext(".stamp"), OutputFiles: ext(".gen")}
	stampMaker := ToolInfo{Name: "stamper", OutputFiles: ext(".stamp")}
	cSource := ToolInfo{Name: "csource", OutputFiles: ext(".c")}
	s := NewState([]ToolInfo{generator, stampMaker, cSource})

	assert.True(t, s.CanCreateOutput(stampMaker, ".gen"), "stamper -> generator (via InputGroups) -> .gen")
	assert.False(t, s.CanCreateOutput(cSource, ".gen"), "csource's .c output is never read by generator")
}

func TestEffectiveInputExtsAsymmetryDirectly(t *testing.T) {
	nullInput := ToolInfo{InputGroups: ext(".stamp")}
	assert.Equal(t, ext(".stamp"), effectiveInputExts(nullInput))

	withFiles := ToolInfo{InputFiles: ext(".c"), InputGroups: ext(".stamp")}
	assert.Equal(t, ext(".c", ".stamp"), effectiveInputExts(withFiles))

	explicitlyNone := ToolInfo{InputFiles: map[string]struct{}{}, InputGroups: ext(".stamp")}
	assert.Equal(t, ext(".stamp"), effectiveInputExts(explicitlyNone))
}
