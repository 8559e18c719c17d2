package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/toolchain"
)

func newTestProject(t *testing.T) *Project {
	t.Helper()
	dir := t.TempDir()
	return New("demo", dir, dir+"/intermediate", dir+"/output", nil)
}

func TestNewProjectSetsUpCsbuildDir(t *testing.T) {
	p := newTestProject(t)
	assert.Contains(t, p.CsbuildDir, ".csforge")
	assert.Contains(t, p.CsbuildDir, "demo")
}

func TestPoolCreatedOnFirstUse(t *testing.T) {
	p := newTestProject(t)
	assert.Empty(t, p.Exts())
	pool := p.Pool(".c")
	require.NotNil(t, pool)
	assert.Equal(t, []string{".c"}, p.Exts())
	assert.Same(t, pool, p.Pool(".c"))
}

func TestAddInputRoutesByExtension(t *testing.T) {
	p := newTestProject(t)
	f := inputfile.New("/src/main.c")
	p.AddInput(f)
	assert.Equal(t, 1, p.Pool(".c").Len())
}

func TestFingerprintStableAndOrderSensitive(t *testing.T) {
	a := inputfile.New("/a.c")
	b := inputfile.New("/b.c")

	fp1 := fingerprint([]*inputfile.File{a, b})
	fp2 := fingerprint([]*inputfile.File{a, b})
	fp3 := fingerprint([]*inputfile.File{b, a})

	assert.Equal(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3, "fingerprint must be sensitive to input order")
}

func TestArtifactRoundTrip(t *testing.T) {
	p := newTestProject(t)
	in := []*inputfile.File{inputfile.New("/src/main.c")}

	assert.Nil(t, p.GetLastResult(in), "no prior run recorded yet")

	p.AddArtifact(in, []string{"/out/main.o"})
	committed := p.CommitArtifacts()
	assert.Equal(t, []string{"/out/main.o"}, committed[fingerprint(in)])

	// After commit, a fresh project loaded with the same artifacts should
	// see them as its prior run.
	p2 := newTestProject(t)
	p2.LoadArtifacts(committed)
	assert.Equal(t, []string{"/out/main.o"}, p2.GetLastResult(in))
}

func TestCarryForwardSkippedPreservesPriorOutputs(t *testing.T) {
	p := newTestProject(t)
	in := []*inputfile.File{inputfile.New("/src/main.c")}
	p.LoadArtifacts(map[string][]string{fingerprint(in): {"/out/main.o"}})

	p.CarryForwardSkipped(in)
	committed := p.CommitArtifacts()
	assert.Equal(t, []string{"/out/main.o"}, committed[fingerprint(in)])
}

func TestCarryForwardSkippedNoopWithoutPriorRecord(t *testing.T) {
	p := newTestProject(t)
	in := []*inputfile.File{inputfile.New("/src/new.c")}

	p.CarryForwardSkipped(in)
	committed := p.CommitArtifacts()
	_, ok := committed[fingerprint(in)]
	assert.False(t, ok)
}

func TestResolveProjectRootResolvesRelativePath(t *testing.T) {
	root, err := ResolveProjectRoot(".")
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestNewUsesProvidedToolchain(t *testing.T) {
	tools := []toolchain.ToolInfo{{Name: "compiler"}}
	p := New("demo", "/work", "/work/int", "/work/out", tools)
	assert.True(t, p.Toolchain.IsToolActive("compiler"))
}
