// Package planfile loads a YAML build plan and produces the concrete
// projects, with the metadata of the tools each one names attached, that the
// scheduler builds. The override-merge pass (a --config file layered
// over the plan's own defaults) is grounded on the teacher's
// pkg/config/loader_helpers.go: unmarshal twice (typed + raw map), then
// merge field by field, treating explicit zero values in the raw map as
// present rather than absent.
package planfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/toolchain"
)

// ToolSpec names a tool to attach to a project's toolchain by its
// registered name (see Registry).
type ToolSpec struct {
	Name string `yaml:"name"`
}

// ProjectSpec is one project entry in the plan file.
type ProjectSpec struct {
	Name            string     `yaml:"name"`
	WorkingDir      string     `yaml:"workingDir"`
	IntermediateDir string     `yaml:"intermediateDir"`
	OutputDir       string     `yaml:"outputDir"`
	Architecture    string     `yaml:"architecture"`
	Platform        string     `yaml:"platform"`
	Target          string     `yaml:"target"`
	Dependencies    []string   `yaml:"dependencies"`
	Tools           []ToolSpec `yaml:"tools"`
	Inputs          []string   `yaml:"inputs"`
}

// Plan is the parsed YAML document: a root directory plus an ordered
// list of project specs (dependency order is declared by the author; the
// loader does not reorder them).
type Plan struct {
	Root     string        `yaml:"root"`
	Projects []ProjectSpec `yaml:"projects"`
}

// Load reads and parses path as a Plan.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: reading %s: %w", path, err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("planfile: parsing %s: %w", path, err)
	}
	return &p, nil
}

// LoadWithOverride reads path as the base plan, then if overridePath is
// non-empty, layers its fields over the base: any field the override
// document sets explicitly (even to a zero value) replaces the base
// field; fields the override document omits entirely are left alone.
func LoadWithOverride(path, overridePath string) (*Plan, error) {
	base, err := Load(path)
	if err != nil {
		return nil, err
	}
	if overridePath == "" {
		return base, nil
	}

	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("planfile: reading override %s: %w", overridePath, err)
	}

	var override Plan
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("planfile: parsing override %s: %w", overridePath, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("planfile: parsing override %s as map: %w", overridePath, err)
	}

	merged := mergePlans(*base, override, raw)
	return &merged, nil
}

// fieldSet reports whether key is present at raw[path...], distinguishing
// "present but zero" from "absent entirely".
func fieldSet(raw map[string]any, path ...string) bool {
	cur := raw
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		next, ok := v.(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

func mergePlans(base, override Plan, raw map[string]any) Plan {
	merged := base
	if fieldSet(raw, "root") {
		merged.Root = override.Root
	}
	if fieldSet(raw, "projects") {
		merged.Projects = mergeProjects(base.Projects, override.Projects, raw)
	}
	return merged
}

func mergeProjects(base, override []ProjectSpec, raw map[string]any) []ProjectSpec {
	byName := make(map[string]ProjectSpec, len(base))
	order := make([]string, 0, len(base))
	for _, p := range base {
		byName[p.Name] = p
		order = append(order, p.Name)
	}

	rawProjects, _ := raw["projects"].([]any)
	for i, ov := range override {
		var rawProj map[string]any
		if i < len(rawProjects) {
			rawProj, _ = rawProjects[i].(map[string]any)
		}

		existing, ok := byName[ov.Name]
		if !ok {
			byName[ov.Name] = ov
			order = append(order, ov.Name)
			continue
		}
		byName[ov.Name] = mergeProjectSpec(existing, ov, rawProj)
	}

	out := make([]ProjectSpec, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

func mergeProjectSpec(base, override ProjectSpec, raw map[string]any) ProjectSpec {
	merged := base
	if raw == nil {
		return merged
	}
	if _, ok := raw["workingDir"]; ok {
		merged.WorkingDir = override.WorkingDir
	}
	if _, ok := raw["intermediateDir"]; ok {
		merged.IntermediateDir = override.IntermediateDir
	}
	if _, ok := raw["outputDir"]; ok {
		merged.OutputDir = override.OutputDir
	}
	if _, ok := raw["architecture"]; ok {
		merged.Architecture = override.Architecture
	}
	if _, ok := raw["platform"]; ok {
		merged.Platform = override.Platform
	}
	if _, ok := raw["target"]; ok {
		merged.Target = override.Target
	}
	if _, ok := raw["dependencies"]; ok {
		merged.Dependencies = override.Dependencies
	}
	if _, ok := raw["tools"]; ok {
		merged.Tools = override.Tools
	}
	if _, ok := raw["inputs"]; ok {
		merged.Inputs = override.Inputs
	}
	return merged
}

// Registry resolves a tool name from a plan file into its metadata,
// supplied by the caller (normally pkg/tool/builtin plus whatever tools
// the embedding program registers).
type Registry map[string]toolchain.ToolInfo

// Resolve builds project.Project instances from the plan, in the order
// declared, with dependency pointers wired to already-resolved upstream
// projects and the named tools' ToolInfo attached to each toolchain.
// Tools themselves (the concrete implementations) are matched up by the
// caller afterward, keyed by the same name, since pkg/project cannot
// import pkg/tool.
func (p *Plan) Resolve(reg Registry) ([]*project.Project, error) {
	byName := make(map[string]*project.Project, len(p.Projects))
	out := make([]*project.Project, 0, len(p.Projects))

	for _, spec := range p.Projects {
		infos := make([]toolchain.ToolInfo, 0, len(spec.Tools))
		for _, ts := range spec.Tools {
			info, ok := reg[ts.Name]
			if !ok {
				return nil, fmt.Errorf("planfile: project %q references unknown tool %q", spec.Name, ts.Name)
			}
			infos = append(infos, info)
		}

		workingDir := resolveUnder(p.Root, spec.WorkingDir)
		proj := project.New(
			spec.Name,
			workingDir,
			resolveUnder(workingDir, spec.IntermediateDir),
			resolveUnder(workingDir, spec.OutputDir),
			infos,
		)
		proj.Architecture = spec.Architecture
		proj.Platform = spec.Platform
		proj.Target = spec.Target

		inputPaths, err := resolveInputs(workingDir, spec.Inputs)
		if err != nil {
			return nil, fmt.Errorf("planfile: project %q: %w", spec.Name, err)
		}
		for _, path := range inputPaths {
			proj.AddInput(inputfile.New(path))
		}

		for _, depName := range spec.Dependencies {
			dep, ok := byName[depName]
			if !ok {
				return nil, fmt.Errorf("planfile: project %q depends on %q, which is not declared earlier in the plan", spec.Name, depName)
			}
			proj.Dependencies = append(proj.Dependencies, dep)
		}

		byName[spec.Name] = proj
		out = append(out, proj)
	}

	return out, nil
}

func resolveUnder(root, dir string) string {
	if dir == "" {
		return root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// resolveInputs expands each of a project's declared input patterns
// (plain paths or glob patterns, resolved relative to workingDir the same
// way resolveUnder treats the other project directories) into a
// de-duplicated list of paths: patterns in declared order, each pattern's
// matches sorted. A pattern matching nothing is an
// error, since a declared-but-absent input almost always signals a typo
// in the plan rather than an intentionally empty pool.
func resolveInputs(workingDir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		resolved := resolveUnder(workingDir, pattern)
		matches, err := filepath.Glob(resolved)
		if err != nil {
			return nil, fmt.Errorf("resolving input pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("input pattern %q matched no files", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}
