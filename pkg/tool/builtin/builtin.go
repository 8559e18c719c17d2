// Package builtin provides a minimal pair of tools (a doubling per-file
// tool and a summing group tool) used to exercise the scheduler end to
// end without shelling out to a real compiler.
package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/tool"
	"github.com/odvcencio/csforge/pkg/toolchain"
)

// Doubler reads an integer from each ".first" file and writes its double
// to a ".second" file of the same base name in the project's intermediate
// directory.
type Doubler struct{}

var _ tool.Tool = Doubler{}

// Info returns Doubler's metadata: single ".first" input, ".second" output.
func (Doubler) Info() toolchain.ToolInfo {
	return toolchain.ToolInfo{
		Name:        "doubler",
		InputFiles:  set(".first"),
		OutputFiles: set(".second"),
	}
}

// SetupForProject ensures the intermediate directory exists.
func (Doubler) SetupForProject(proj *project.Project) error {
	return os.MkdirAll(proj.IntermediateDir, 0o755)
}

// Run doubles the integer content of in and writes it to a ".second" file.
func (Doubler) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	n, err := readInt(in.Path)
	if err != nil {
		return nil, fmt.Errorf("doubler: reading %s: %w", in.Path, err)
	}
	base := strings.TrimSuffix(filepath.Base(in.Path), filepath.Ext(in.Path))
	out := filepath.Join(proj.IntermediateDir, base+".second")
	if err := writeInt(out, n*2); err != nil {
		return nil, fmt.Errorf("doubler: writing %s: %w", out, err)
	}
	return []string{out}, nil
}

// RunGroup is unimplemented: Doubler declares no InputGroups.
func (Doubler) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	return nil, fmt.Errorf("doubler: RunGroup not supported")
}

// Summer sums the integer content of every ".second" file once all
// producers of ".second" have gone inactive, and writes the total to
// "<project>.third" in the project's output directory.
type Summer struct{}

var _ tool.Tool = Summer{}

// Info returns Summer's metadata: ".second" group input, ".third" output.
func (Summer) Info() toolchain.ToolInfo {
	return toolchain.ToolInfo{
		Name:        "summer",
		InputGroups: set(".second"),
		OutputFiles: set(".third"),
	}
}

// SetupForProject ensures the output directory exists.
func (Summer) SetupForProject(proj *project.Project) error {
	return os.MkdirAll(proj.OutputDir, 0o755)
}

// Run is unimplemented: Summer declares no per-file InputFiles.
func (Summer) Run(proj *project.Project, in *inputfile.File) ([]string, error) {
	return nil, fmt.Errorf("summer: Run not supported")
}

// RunGroup sums every input file's integer content and writes the total.
func (Summer) RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error) {
	var total int
	for _, f := range ins {
		n, err := readInt(f.Path)
		if err != nil {
			return nil, fmt.Errorf("summer: reading %s: %w", f.Path, err)
		}
		total += n
	}
	out := filepath.Join(proj.OutputDir, proj.Name+".third")
	if err := writeInt(out, total); err != nil {
		return nil, fmt.Errorf("summer: writing %s: %w", out, err)
	}
	return []string{out}, nil
}

func set(exts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}
	return m
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
