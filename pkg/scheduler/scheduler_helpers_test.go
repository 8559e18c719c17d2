package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/tool"
	"github.com/odvcencio/csforge/pkg/toolchain"
)

// countingTool wraps another tool.Tool and counts how many times Run or
// RunGroup actually executed, so a test can assert a rebuild skipped
// every invocation rather than merely producing the same outputs.
type countingTool struct {
	tool.Tool
	runs atomic.Int32
}

func (c *countingTool) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	c.runs.Add(1)
	return c.Tool.Run(proj, in)
}

func (c *countingTool) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	c.runs.Add(1)
	return c.Tool.RunGroup(proj, ins)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func writeInt(path string, n int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(n)), 0o644)
}

// libSummer is builtin.Summer's shape but producing a ".thirdlib"
// extension instead of ".third", standing in for a project that ships a
// library another project links against.
type libSummer struct{}

func (libSummer) Info() toolchain.ToolInfo {
	return toolchain.ToolInfo{Name: "libsummer", InputGroups: set(".second"), OutputFiles: set(".thirdlib")}
}

func (libSummer) SetupForProject(proj *project.Project) error {
	return os.MkdirAll(proj.OutputDir, 0o755)
}

func (libSummer) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	return nil, fmt.Errorf("libsummer: Run not supported")
}

func (libSummer) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	var total int
	for _, f := range ins {
		n, err := readInt(f.Path)
		if err != nil {
			return nil, err
		}
		total += n
	}
	out := filepath.Join(proj.OutputDir, proj.Name+".thirdlib")
	if err := writeInt(out, total); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

// crossLinker is a null-input tool gated on a cross-project dependency:
// it waits for every active tool in its project's dependencies claiming
// ".thirdlib" to quiesce, then reads the upstream project's published
// library file directly (crossProjectDependencies only orders dispatch;
// it carries no file handle across the project boundary) and doubles it.
type crossLinker struct{}

func (crossLinker) Info() toolchain.ToolInfo {
	return toolchain.ToolInfo{
		Name:                     "crosslinker",
		CrossProjectDependencies: set(".thirdlib"),
		OutputFiles:              set(".thirdapp"),
	}
}

func (crossLinker) SetupForProject(proj *project.Project) error {
	return os.MkdirAll(proj.OutputDir, 0o755)
}

func (crossLinker) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	return nil, fmt.Errorf("crosslinker: Run not supported")
}

func (crossLinker) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	upstream := proj.Dependencies[0]
	libPath := filepath.Join(upstream.OutputDir, upstream.Name+".thirdlib")
	n, err := readInt(libPath)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(proj.OutputDir, proj.Name+".thirdapp")
	if err := writeInt(out, n*2); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

// multiDoubler emits two ".second" outputs per ".first" input (i*2 and
// i*4), the scenario-4 multi-output-single-input tool.
type multiDoubler struct{}

func (multiDoubler) Info() toolchain.ToolInfo {
	return toolchain.ToolInfo{Name: "multidoubler", InputFiles: set(".first"), OutputFiles: set(".second")}
}

func (multiDoubler) SetupForProject(proj *project.Project) error {
	return os.MkdirAll(proj.IntermediateDir, 0o755)
}

func (multiDoubler) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	n, err := readInt(in.Path)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	out1 := filepath.Join(proj.IntermediateDir, base+".second")
	out2 := filepath.Join(proj.IntermediateDir, base+"2.second")
	if err := writeInt(out1, n*2); err != nil {
		return nil, err
	}
	if err := writeInt(out2, n*4); err != nil {
		return nil, err
	}
	return []string{out1, out2}, nil
}

func (multiDoubler) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	return nil, fmt.Errorf("multidoubler: RunGroup not supported")
}

// concurrencyTracker records the highest number of simultaneously running
// invocations observed across every tool sharing it.
type concurrencyTracker struct {
	current     atomic.Int32
	maxObserved atomic.Int32
}

// trackedTool is a per-file tool that holds briefly to make overlapping
// invocations observable, used to assert a global (not per-project)
// maxParallel cap.
type trackedTool struct {
	info    toolchain.ToolInfo
	tracker *concurrencyTracker
}

func (t *trackedTool) Info() toolchain.ToolInfo { return t.info }

func (t *trackedTool) SetupForProject(proj *project.Project) error {
	return os.MkdirAll(proj.IntermediateDir, 0o755)
}

func (t *trackedTool) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	n := t.tracker.current.Add(1)
	defer t.tracker.current.Add(-1)
	for {
		observed := t.tracker.maxObserved.Load()
		if n <= observed || t.tracker.maxObserved.CompareAndSwap(observed, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	base := strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	out := filepath.Join(proj.IntermediateDir, base+".second")
	if err := writeInt(out, 1); err != nil {
		return nil, err
	}
	return []string{out}, nil
}

func (t *trackedTool) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	return nil, fmt.Errorf("trackedTool: RunGroup not supported")
}
