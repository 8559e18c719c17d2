// Package toolchain holds tool metadata and the per-project bookkeeping
// (activity, reachability) that the scheduler consults to decide what can
// still run and what has gone quiet.
//
// ToolInfo is pure metadata: it carries no behavior and imports nothing
// from pkg/project or pkg/tool, so both of those packages can depend on
// toolchain without creating an import cycle.
package toolchain

import "sync"

// ToolInfo is the class-level metadata of a tool, the later of the two
// definitions found in the original source (crossProjectDependencies and
// maxParallel, not waitForDependentExtensions).
type ToolInfo struct {
	Name string

	// InputFiles is the set of extensions consumed one at a time via Run.
	// Nil means the tool takes no per-file inputs (a null-input tool);
	// an empty, non-nil set is distinct and means "explicitly none".
	InputFiles map[string]struct{}

	// InputGroups is the set of extensions consumed as a single batch via
	// RunGroup, dispatched only once every producer of those extensions
	// has gone inactive for the project.
	InputGroups map[string]struct{}

	// OutputFiles is the set of extensions this tool produces.
	OutputFiles map[string]struct{}

	// Dependencies must be inactive in the project before this tool runs.
	Dependencies map[string]struct{}

	// CrossProjectDependencies must be inactive in every direct upstream
	// project before this tool runs.
	CrossProjectDependencies map[string]struct{}

	// SupportedArchitectures and SupportedPlatforms filter which projects
	// this tool applies to. Nil means universal support.
	SupportedArchitectures map[string]struct{}
	SupportedPlatforms     map[string]struct{}

	// MaxParallel caps simultaneous invocations of this tool across every
	// project sharing it. Zero means unlimited.
	MaxParallel int

	// Exclusive means consuming an input removes it from the project's
	// input pool so no later tool can re-consume it.
	Exclusive bool
}

// effectiveInputExts returns the extensions this tool reads for the
// purposes of static reachability analysis. This preserves the asymmetry
// in the original source: a tool with non-nil InputFiles reads the union
// of InputFiles and InputGroups; a null-input tool (InputFiles == nil)
// reads only InputGroups.
func effectiveInputExts(t ToolInfo) map[string]struct{} {
	if t.InputFiles == nil {
		return t.InputGroups
	}
	out := make(map[string]struct{}, len(t.InputFiles)+len(t.InputGroups))
	for e := range t.InputFiles {
		out[e] = struct{}{}
	}
	for e := range t.InputGroups {
		out[e] = struct{}{}
	}
	return out
}

// State tracks, for one project, which tools are active and the
// reachability multiset of output extensions. All mutation happens on the
// scheduler's coordinator goroutine; the mutex exists only to let read-only
// callers (tests, diagnostics) query safely from another goroutine.
type State struct {
	mu sync.Mutex

	tools        []ToolInfo
	active       map[string]bool
	reachability map[string]int
}

// NewState builds toolchain state for a project given the complete set of
// tools in its toolchain, all initially active.
func NewState(tools []ToolInfo) *State {
	active := make(map[string]bool, len(tools))
	for _, t := range tools {
		active[t.Name] = true
	}
	return &State{
		tools:        tools,
		active:       active,
		reachability: make(map[string]int),
	}
}

// CreateReachability increments the claim count for each output extension
// of tool. Call immediately before enqueuing a task for it.
func (s *State) CreateReachability(tool ToolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ext := range tool.OutputFiles {
		s.reachability[ext]++
	}
}

// ReleaseReachability decrements the claim count for each output extension
// of tool. Call at task completion, before downstream probing.
func (s *State) ReleaseReachability(tool ToolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ext := range tool.OutputFiles {
		if s.reachability[ext] > 0 {
			s.reachability[ext]--
		}
	}
}

// IsOutputActive reports whether any reachability claim remains on ext.
func (s *State) IsOutputActive(ext string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachability[ext] > 0
}

// IsToolActive reports whether toolName has not yet been deactivated.
func (s *State) IsToolActive(toolName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[toolName]
}

// DeactivateTool marks toolName as no longer eligible for new tasks.
// Idempotent: deactivating an already-inactive tool is a no-op.
func (s *State) DeactivateTool(toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[toolName] = false
}

// GetToolsFor returns the active tools whose InputFiles contains ext and
// for which exclude(name) is false.
func (s *State) GetToolsFor(ext string, exclude func(name string) bool) []ToolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ToolInfo
	for _, t := range s.tools {
		if !s.active[t.Name] {
			continue
		}
		if _, ok := t.InputFiles[ext]; !ok {
			continue
		}
		if exclude != nil && exclude(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// GetActiveTools returns every tool not yet deactivated.
func (s *State) GetActiveTools() []ToolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ToolInfo
	for _, t := range s.tools {
		if s.active[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// GetAllTools returns every tool in the project's toolchain, regardless of
// activity.
func (s *State) GetAllTools() []ToolInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolInfo, len(s.tools))
	copy(out, s.tools)
	return out
}

// HasAnyReachability reports whether any extension still has a reachability
// claim. Used post-loop to detect stuck builds.
func (s *State) HasAnyReachability() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.reachability {
		if n > 0 {
			return true
		}
	}
	return false
}

// CanCreateOutput answers the static reachability query: starting from
// tool's own output extensions, is there a path (through other tools in
// this project's toolchain consuming an extension and producing another)
// to a tool that produces ext? This does not consult current activity or
// reachability state; it is a pure graph question over the full tool set,
// used by the pre-build filter to avoid queuing a tool whose inputs might
// still arrive via another branch.
func (s *State) CanCreateOutput(tool ToolInfo, ext string) bool {
	s.mu.Lock()
	all := make([]ToolInfo, len(s.tools))
	copy(all, s.tools)
	s.mu.Unlock()

	frontier := make(map[string]struct{}, len(tool.OutputFiles))
	for e := range tool.OutputFiles {
		if e == ext {
			return true
		}
		frontier[e] = struct{}{}
	}

	visited := make(map[string]struct{})
	for len(frontier) > 0 {
		next := make(map[string]struct{})
		for e := range frontier {
			if _, done := visited[e]; done {
				continue
			}
			visited[e] = struct{}{}
			for _, t2 := range all {
				ins := effectiveInputExts(t2)
				if _, reads := ins[e]; !reads {
					continue
				}
				for outExt := range t2.OutputFiles {
					if outExt == ext {
						return true
					}
					if _, seen := visited[outExt]; !seen {
						next[outExt] = struct{}{}
					}
				}
			}
		}
		frontier = next
	}
	return false
}
