package scheduler

import (
	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/recompile"
	"github.com/odvcencio/csforge/pkg/tool"
)

// allUpToDate reports whether every file in ins has UpToDate set. An
// empty slice (a null-input task) is vacuously true but is never used to
// skip, since null-input tools have no prior-output lookup key.
func allUpToDate(ins []*inputfile.File) bool {
	for _, f := range ins {
		if !f.UpToDate {
			return false
		}
	}
	return true
}

// runSingleTask is the worker body (_logThenRun) for a per-file Run
// invocation. doCompileCheck is true only for initial-seed tasks; it
// drives the recompile-checker skip path. Non-seed tasks (fanout
// invocations) instead skip only when the input's UpToDate flag was
// already propagated from an upstream skip.
func (s *Scheduler) runSingleTask(proj *project.Project, t tool.Tool, in *inputfile.File, doCompileCheck bool) (workResult, error) {
	inputs := []*inputfile.File{in}

	if doCompileCheck {
		checker := tool.CheckerFor(t, in.Ext())
		condensed, err := recompile.Condense(checker, in)
		if err == nil {
			if baseline, ok := checker.GetRecompileBaseline(proj, inputs); ok && !checker.ShouldRecompile(condensed, baseline) {
				if prior := proj.GetLastResult(inputs); prior != nil {
					return workResult{outputs: prior, skipped: true}, nil
				}
			}
		}
	} else if in.UpToDate {
		if prior := proj.GetLastResult(inputs); prior != nil {
			return workResult{outputs: prior, skipped: true}, nil
		}
	}

	outs, err := t.Run(proj, in)
	if err != nil {
		return workResult{}, &BuildFailure{Project: proj.Name, Inputs: []string{in.Path}, Err: err}
	}
	return workResult{outputs: outs, skipped: false}, nil
}

// runGroupTask is the worker body for a RunGroup invocation. Group tasks
// never receive a compile check (only per-file initial-seed tasks do);
// they skip only when every member of the batch is already up to date.
func (s *Scheduler) runGroupTask(proj *project.Project, t tool.Tool, ins []*inputfile.File) (workResult, error) {
	if len(ins) > 0 && allUpToDate(ins) {
		if prior := proj.GetLastResult(ins); prior != nil {
			return workResult{outputs: prior, skipped: true}, nil
		}
	}

	paths := make([]string, len(ins))
	for i, f := range ins {
		paths[i] = f.Path
	}

	outs, err := t.RunGroup(proj, ins)
	if err != nil {
		return workResult{}, &BuildFailure{Project: proj.Name, Inputs: paths, Err: err}
	}
	return workResult{outputs: outs, skipped: false}, nil
}

// runNullTask is the worker body for a null-input tool's single
// per-project invocation. There is no prior-input set to check against a
// ledger entry, so it always runs.
func (s *Scheduler) runNullTask(proj *project.Project, t tool.Tool) (workResult, error) {
	outs, err := t.RunGroup(proj, nil)
	if err != nil {
		return workResult{}, &BuildFailure{Project: proj.Name, Inputs: nil, Err: err}
	}
	return workResult{outputs: outs, skipped: false}, nil
}
