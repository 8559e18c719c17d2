// Package tool defines the plug-in contract build tools implement. It
// imports both pkg/toolchain (for metadata) and pkg/project (for the
// Run/RunGroup signatures); neither of those packages imports this one,
// so the dependency graph stays acyclic:
// toolchain and project sit below tool, scheduler sits above it.
package tool

import (
	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/recompile"
	"github.com/odvcencio/csforge/pkg/toolchain"
)

// Tool is the build-step contract. Run and RunGroup are called massively
// in parallel by the worker pool and are not thread-safe: any shared state
// a tool implementation touches must be self-protected.
type Tool interface {
	// Info returns the tool's class-level metadata.
	Info() toolchain.ToolInfo

	// SetupForProject is called once per project after dependency
	// resolution, before the first task is enqueued for this tool.
	SetupForProject(proj *project.Project) error

	// Run executes a single build step over one input file. It returns
	// the output paths produced, all with an extension in the tool's
	// OutputFiles set.
	Run(proj *project.Project, in *inputfile.File) ([]string, error)

	// RunGroup executes a batch build step over every unconsumed input of
	// the tool's InputGroups extensions at once. A null-input tool (no
	// InputFiles and no InputGroups) is also run through RunGroup, with a
	// nil ins.
	RunGroup(proj *project.Project, ins []*inputfile.File) ([]string, error)
}

// Checkable is an optional capability interface: tools that need a
// non-default recompile policy (e.g. dependency scanning of #include
// directives) implement it instead of relying on recompile.MTimeChecker.
type Checkable interface {
	GetChecker(ext string) recompile.Checker
}

// CheckerFor returns t's declared checker for ext if it implements
// Checkable, otherwise the default modification-time checker.
func CheckerFor(t Tool, ext string) recompile.Checker {
	if c, ok := t.(Checkable); ok {
		if checker := c.GetChecker(ext); checker != nil {
			return checker
		}
	}
	return recompile.MTimeChecker{}
}
