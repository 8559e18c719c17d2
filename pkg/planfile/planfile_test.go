package planfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlan(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesProjectsInDeclaredOrder(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, "plan.yaml", `
root: /work
projects:
  - name: lib
    tools:
      - name: doubler
  - name: app
    dependencies: [lib]
    tools:
      - name: summer
`)
	plan, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/work", plan.Root)
	require.Len(t, plan.Projects, 2)
	assert.Equal(t, "lib", plan.Projects[0].Name)
	assert.Equal(t, "app", plan.Projects[1].Name)
	assert.Equal(t, []string{"lib"}, plan.Projects[1].Dependencies)
}

func TestLoadWithOverrideNoOverridePathReturnsBase(t *testing.T) {
	dir := t.TempDir()
	path := writePlan(t, dir, "plan.yaml", "root: /work\nprojects: []\n")
	plan, err := LoadWithOverride(path, "")
	require.NoError(t, err)
	assert.Equal(t, "/work", plan.Root)
}

func TestLoadWithOverrideReplacesOnlyFieldsPresentInOverride(t *testing.T) {
	dir := t.TempDir()
	base := writePlan(t, dir, "plan.yaml", `
root: /work
projects:
  - name: app
    workingDir: src
    architecture: amd64
    platform: linux
`)
	override := writePlan(t, dir, "override.yaml", `
projects:
  - name: app
    architecture: arm64
`)

	plan, err := LoadWithOverride(base, override)
	require.NoError(t, err)
	require.Len(t, plan.Projects, 1)
	assert.Equal(t, "arm64", plan.Projects[0].Architecture, "override sets architecture explicitly")
	assert.Equal(t, "linux", plan.Projects[0].Platform, "platform is absent from override, so base value is kept")
	assert.Equal(t, "src", plan.Projects[0].WorkingDir, "workingDir is absent from override, so base value is kept")
}

func TestLoadWithOverrideTreatsExplicitZeroValueAsSet(t *testing.T) {
	dir := t.TempDir()
	base := writePlan(t, dir, "plan.yaml", `
root: /work
projects:
  - name: app
    target: release
`)
	override := writePlan(t, dir, "override.yaml", `
projects:
  - name: app
    target: ""
`)

	plan, err := LoadWithOverride(base, override)
	require.NoError(t, err)
	assert.Equal(t, "", plan.Projects[0].Target, "an explicit empty string in the override must win over the base value")
}

func TestLoadWithOverrideAddsNewProjectNotInBase(t *testing.T) {
	dir := t.TempDir()
	base := writePlan(t, dir, "plan.yaml", `
root: /work
projects:
  - name: lib
`)
	override := writePlan(t, dir, "override.yaml", `
projects:
  - name: lib
  - name: extra
`)

	plan, err := LoadWithOverride(base, override)
	require.NoError(t, err)
	require.Len(t, plan.Projects, 2)
	assert.Equal(t, "extra", plan.Projects[1].Name)
}

func TestFieldSetDistinguishesAbsentFromZero(t *testing.T) {
	raw := map[string]any{
		"root": "",
		"nested": map[string]any{
			"inner": 0,
		},
	}
	assert.True(t, fieldSet(raw, "root"))
	assert.True(t, fieldSet(raw, "nested", "inner"))
	assert.False(t, fieldSet(raw, "missing"))
	assert.False(t, fieldSet(raw, "nested", "missing"))
}

func TestResolveWiresDependenciesAndTools(t *testing.T) {
	plan := &Plan{
		Root: "/work",
		Projects: []ProjectSpec{
			{Name: "lib", WorkingDir: "lib", Tools: []ToolSpec{{Name: "doubler"}}},
			{Name: "app", WorkingDir: "app", Dependencies: []string{"lib"}, Tools: []ToolSpec{{Name: "summer"}}},
		},
	}
	reg := Registry{
		"doubler": {Name: "doubler"},
		"summer":  {Name: "summer"},
	}

	projects, err := plan.Resolve(reg)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	lib, app := projects[0], projects[1]
	assert.Equal(t, "/work/lib", lib.WorkingDir)
	require.Len(t, app.Dependencies, 1)
	assert.Same(t, lib, app.Dependencies[0])
	assert.True(t, app.Toolchain.IsToolActive("summer"))
}

func TestResolveUnknownToolNameErrors(t *testing.T) {
	plan := &Plan{Projects: []ProjectSpec{{Name: "app", Tools: []ToolSpec{{Name: "ghost"}}}}}
	_, err := plan.Resolve(Registry{})
	assert.Error(t, err)
}

func TestResolveUnknownDependencyErrors(t *testing.T) {
	plan := &Plan{Projects: []ProjectSpec{{Name: "app", Dependencies: []string{"missing"}}}}
	_, err := plan.Resolve(Registry{})
	assert.Error(t, err)
}

func TestResolveUnderHandlesAbsoluteAndRelativeAndEmpty(t *testing.T) {
	assert.Equal(t, "/work", resolveUnder("/work", ""))
	assert.Equal(t, "/abs/dir", resolveUnder("/work", "/abs/dir"))
	assert.Equal(t, filepath.Join("/work", "src"), resolveUnder("/work", "src"))
}

func TestResolveGlobsDeclaredInputsIntoProjectPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.c"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.c"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.h"), []byte("h"), 0o644))

	plan := &Plan{
		Root: dir,
		Projects: []ProjectSpec{
			{Name: "app", Inputs: []string{"*.c", "main.h"}},
		},
	}

	projects, err := plan.Resolve(Registry{})
	require.NoError(t, err)
	require.Len(t, projects, 1)

	var paths []string
	for _, f := range projects[0].Pool(".c").Files() {
		paths = append(paths, filepath.Base(f.Path))
	}
	assert.ElementsMatch(t, []string{"a.c", "b.c"}, paths)

	hPool := projects[0].Pool(".h").Files()
	require.Len(t, hPool, 1)
	assert.Equal(t, "main.h", filepath.Base(hPool[0].Path))
}

func TestResolveErrorsWhenInputPatternMatchesNothing(t *testing.T) {
	dir := t.TempDir()
	plan := &Plan{
		Root:     dir,
		Projects: []ProjectSpec{{Name: "app", Inputs: []string{"*.missing"}}},
	}
	_, err := plan.Resolve(Registry{})
	assert.Error(t, err)
}
