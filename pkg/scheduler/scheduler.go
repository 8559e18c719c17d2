// Package scheduler is the dynamic dispatcher: it seeds initial tool
// invocations, reacts to completions by registering new inputs and
// probing for newly unblocked work, and terminates when nothing is left
// running. All state mutation happens on the single goroutine that calls
// Run; workers only execute tool code and post completions back.
package scheduler

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/odvcencio/csforge/pkg/inputfile"
	"github.com/odvcencio/csforge/pkg/logging"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/telemetry"
	"github.com/odvcencio/csforge/pkg/tool"
	"github.com/odvcencio/csforge/pkg/toolchain"
	"github.com/odvcencio/csforge/pkg/workerpool"
)

// workResult is what a worker body returns: the output paths produced (or
// the prior run's outputs, if skipped) and whether the task was skipped.
type workResult struct {
	outputs []string
	skipped bool
}

// Scheduler owns every piece of mutable build state: per-tool global
// concurrency counters (curParallel is global across projects because a
// tool's maxParallel caps invocations of that tool everywhere, not per
// project), running/total/completed build counts, and the failure tally.
type Scheduler struct {
	pool        *workerpool.Pool
	logger      *logging.Logger
	hub         *telemetry.Hub
	stopOnError bool

	projects []*project.Project
	toolsOf  map[*project.Project][]tool.Tool

	curParallel     map[string]int
	runningBuilds   int
	totalBuilds     int
	completedBuilds int
	failures        int
	fatalErr        error

	projectsWithCrossProjectDeps []*project.Project

	// nullEnqueued/groupEnqueued track, per project, whether a null-input
	// or group-input tool has already had its one task dispatched, since
	// neither is gated by per-file InputFile.toolsUsed bookkeeping.
	nullEnqueued  map[*project.Project]map[string]bool
	groupEnqueued map[*project.Project]map[string]bool
}

// New creates a scheduler bound to pool. logger and hub may both be nil;
// hub, when set, receives a publish for every task start/skip/success/
// failure and tool deactivation so a metrics exporter or progress
// renderer can subscribe without the scheduler knowing about either.
func New(pool *workerpool.Pool, stopOnError bool, logger *logging.Logger, hub *telemetry.Hub) *Scheduler {
	return &Scheduler{
		pool:          pool,
		logger:        logger,
		hub:           hub,
		stopOnError:   stopOnError,
		toolsOf:       make(map[*project.Project][]tool.Tool),
		curParallel:   make(map[string]int),
		nullEnqueued:  make(map[*project.Project]map[string]bool),
		groupEnqueued: make(map[*project.Project]map[string]bool),
	}
}

// publish posts ev to the hub if one is attached; a no-op otherwise.
func (s *Scheduler) publish(ev telemetry.Event) {
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}

// AddProject registers proj with its concrete tool set, calling
// SetupForProject on each tool. Call for every project before Run.
func (s *Scheduler) AddProject(proj *project.Project, tools []tool.Tool) error {
	for _, t := range tools {
		if err := t.SetupForProject(proj); err != nil {
			return err
		}
	}
	s.projects = append(s.projects, proj)
	s.toolsOf[proj] = tools
	s.nullEnqueued[proj] = make(map[string]bool)
	s.groupEnqueued[proj] = make(map[string]bool)
	return nil
}

// Failures returns the number of build failures and stuck-build
// detections tallied so far.
func (s *Scheduler) Failures() int {
	return s.failures
}

func (s *Scheduler) toolByName(proj *project.Project, name string) tool.Tool {
	for _, t := range s.toolsOf[proj] {
		if t.Info().Name == name {
			return t
		}
	}
	return nil
}

// canRun is the concurrency cap check: a tool with MaxParallel == 0 is
// unlimited; otherwise its global curParallel must be below the cap.
func (s *Scheduler) canRun(info toolchain.ToolInfo) bool {
	return info.MaxParallel == 0 || s.curParallel[info.Name] < info.MaxParallel
}

// dependenciesMet is the dependency gate: every local dependency extension
// must be inactive in proj, and every cross-project dependency extension
// must be inactive in every direct upstream project.
func (s *Scheduler) dependenciesMet(proj *project.Project, info toolchain.ToolInfo) bool {
	for ext := range info.Dependencies {
		if proj.Toolchain.IsOutputActive(ext) {
			return false
		}
	}
	for ext := range info.CrossProjectDependencies {
		for _, up := range proj.Dependencies {
			if up.Toolchain.IsOutputActive(ext) {
				return false
			}
		}
	}
	return true
}

// getGroupInputFiles returns the union of unconsumed files across a
// group tool's InputGroups extensions, or nil if any of those extensions
// is still active (meaning some producer could still add to the group).
func (s *Scheduler) getGroupInputFiles(proj *project.Project, info toolchain.ToolInfo) []*inputfile.File {
	for ext := range info.InputGroups {
		if proj.Toolchain.IsOutputActive(ext) {
			return nil
		}
	}
	var out []*inputfile.File
	for ext := range info.InputGroups {
		out = append(out, proj.Pool(ext).Unconsumed(info.Name)...)
	}
	return out
}

// checkDependenciesPreBuild is the pre-build filter applied only before
// the loop starts: it asks, using the static reachability graph rather
// than current activity, whether any other tool could still eventually
// produce one of this tool's dependency extensions (checked against the
// project itself) or cross-project dependency extensions (checked against
// each direct upstream project). This avoids queuing, say, a linker
// before any compiler has had a chance to produce object files.
func (s *Scheduler) checkDependenciesPreBuild(proj *project.Project, info toolchain.ToolInfo) bool {
	for ext := range info.Dependencies {
		for _, other := range proj.Toolchain.GetAllTools() {
			if other.Name == info.Name {
				continue
			}
			if proj.Toolchain.CanCreateOutput(other, ext) {
				return false
			}
		}
	}
	for ext := range info.CrossProjectDependencies {
		for _, up := range proj.Dependencies {
			for _, other := range up.Toolchain.GetAllTools() {
				if up.Toolchain.CanCreateOutput(other, ext) {
					return false
				}
			}
		}
	}
	return true
}

// isNullInput reports whether info describes a null-input tool: no
// per-file inputs at all (InputFiles nil) and no group inputs either.
func isNullInput(info toolchain.ToolInfo) bool {
	return info.InputFiles == nil && len(info.InputGroups) == 0
}

// Run starts the worker pool, seeds the initial tasks, and drives the
// coordinator loop to completion. It returns the number of failures
// (build failures plus stuck-build detections) and a non-nil error for a
// scheduler invariant violation (anything other than a BuildFailure
// surfacing from a worker) or, when stop-on-error is set, for the first
// BuildFailure.
func (s *Scheduler) Run(ctx context.Context) (int, error) {
	s.projectsWithCrossProjectDeps = s.computeCrossProjectOwners()
	s.pool.Start()

	enqueued := s.seed()
	if enqueued == 0 {
		if s.logger != nil {
			s.logger.Info(logging.CategoryScheduler, "nothing_to_build", "", "", "Nothing to build.", nil)
		}
		s.publish(telemetry.Event{Type: telemetry.EventBuildFinished})
		return 0, nil
	}

	for c := range s.pool.Completions() {
		if c.Exit {
			break
		}
		c.Complete(c.Result, c.Err)
		if s.fatalErr != nil {
			s.publish(telemetry.Event{Type: telemetry.EventBuildFinished})
			return s.failures, s.fatalErr
		}
	}

	for _, proj := range s.projects {
		if proj.Toolchain.HasAnyReachability() {
			s.failures++
			if s.logger != nil {
				s.logger.Error(logging.CategoryScheduler, "stuck_build", proj.Name, "", "project did not finish building", nil)
			}
		}
	}

	s.publish(telemetry.Event{Type: telemetry.EventBuildFinished, Details: map[string]any{"failures": s.failures}})
	return s.failures, nil
}

func (s *Scheduler) computeCrossProjectOwners() []*project.Project {
	var out []*project.Project
	for _, proj := range s.projects {
		for _, t := range s.toolsOf[proj] {
			if len(t.Info().CrossProjectDependencies) > 0 {
				out = append(out, proj)
				break
			}
		}
	}
	return out
}

// seed applies the initial-seed pass and pre-build filter from §4.6,
// returning the number of tasks enqueued.
func (s *Scheduler) seed() int {
	count := 0

	for _, proj := range s.projects {
		for _, t := range s.toolsOf[proj] {
			info := t.Info()
			if !proj.Toolchain.IsToolActive(info.Name) {
				continue
			}
			if !isNullInput(info) {
				continue
			}
			if !s.dependenciesMet(proj, info) || !s.checkDependenciesPreBuild(proj, info) || !s.canRun(info) {
				continue
			}
			s.enqueueNull(proj, t)
			s.nullEnqueued[proj][info.Name] = true
			count++
		}

		for _, t := range s.toolsOf[proj] {
			info := t.Info()
			if isNullInput(info) || info.InputFiles == nil {
				continue
			}
			if !proj.Toolchain.IsToolActive(info.Name) {
				continue
			}
			for ext := range info.InputFiles {
				for _, f := range proj.Pool(ext).Unconsumed(info.Name) {
					if !s.dependenciesMet(proj, info) || !s.checkDependenciesPreBuild(proj, info) || !s.canRun(info) {
						break
					}
					s.enqueueSingle(proj, t, f, true)
					count++
				}
			}
		}
	}

	for _, proj := range s.projects {
		for _, t := range s.toolsOf[proj] {
			info := t.Info()
			if len(info.InputGroups) == 0 {
				continue
			}
			if !proj.Toolchain.IsToolActive(info.Name) {
				continue
			}
			if !s.dependenciesMet(proj, info) || !s.checkDependenciesPreBuild(proj, info) || !s.canRun(info) {
				continue
			}
			files := s.getGroupInputFiles(proj, info)
			if len(files) == 0 {
				continue
			}
			s.enqueueGroup(proj, t, files)
			s.groupEnqueued[proj][info.Name] = true
			count++
		}
	}

	return count
}

// enqueueSingle dispatches a per-file Run invocation.
func (s *Scheduler) enqueueSingle(proj *project.Project, t tool.Tool, in *inputfile.File, doCompileCheck bool) {
	info := t.Info()
	s.curParallel[info.Name]++
	s.runningBuilds++
	s.totalBuilds++
	proj.Toolchain.CreateReachability(info)
	if info.Exclusive {
		proj.Pool(in.Ext()).Remove(in.Path)
	}
	in.UseTool(info.Name)
	s.publish(telemetry.Event{Type: telemetry.EventTaskStarted, Project: proj.Name, Tool: info.Name})

	inputs := []*inputfile.File{in}
	s.pool.AddTask(workerpool.Task{
		Work: func(ctx context.Context) (any, error) {
			return s.runSingleTask(proj, t, in, doCompileCheck)
		},
		Complete: func(res any, err error) {
			s.onComplete(proj, t, inputs, res, err)
		},
	})
}

// enqueueGroup dispatches a RunGroup invocation over ins.
func (s *Scheduler) enqueueGroup(proj *project.Project, t tool.Tool, ins []*inputfile.File) {
	info := t.Info()
	s.curParallel[info.Name]++
	s.runningBuilds++
	s.totalBuilds++
	proj.Toolchain.CreateReachability(info)
	for _, f := range ins {
		if info.Exclusive {
			proj.Pool(f.Ext()).Remove(f.Path)
		}
		f.UseTool(info.Name)
	}
	s.publish(telemetry.Event{Type: telemetry.EventTaskStarted, Project: proj.Name, Tool: info.Name})

	s.pool.AddTask(workerpool.Task{
		Work: func(ctx context.Context) (any, error) {
			return s.runGroupTask(proj, t, ins)
		},
		Complete: func(res any, err error) {
			s.onComplete(proj, t, ins, res, err)
		},
	})
}

// enqueueNull dispatches the one RunGroup(proj, nil) invocation a
// null-input tool ever gets for a project.
func (s *Scheduler) enqueueNull(proj *project.Project, t tool.Tool) {
	info := t.Info()
	s.curParallel[info.Name]++
	s.runningBuilds++
	s.totalBuilds++
	proj.Toolchain.CreateReachability(info)
	s.publish(telemetry.Event{Type: telemetry.EventTaskStarted, Project: proj.Name, Tool: info.Name})

	s.pool.AddTask(workerpool.Task{
		Work: func(ctx context.Context) (any, error) {
			return s.runNullTask(proj, t)
		},
		Complete: func(res any, err error) {
			s.onComplete(proj, t, nil, res, err)
		},
	})
}

// onComplete is _buildFinished: release reachability, check for tool
// deactivation, then register outputs and probe for newly unblocked work.
func (s *Scheduler) onComplete(proj *project.Project, t tool.Tool, inputs []*inputfile.File, res any, err error) {
	info := t.Info()
	s.curParallel[info.Name]--
	s.runningBuilds--
	proj.Toolchain.ReleaseReachability(info)
	s.completedBuilds++

	if err != nil {
		var bf *BuildFailure
		if errors.As(err, &bf) {
			s.failures++
			s.publish(telemetry.Event{Type: telemetry.EventTaskFailed, Project: proj.Name, Tool: info.Name})
			if s.logger != nil {
				s.logger.Error(logging.CategoryScheduler, "build_failure", proj.Name, info.Name, bf.Error(), nil)
			}
			s.maybeDeactivate(proj, info)
			if s.runningBuilds == 0 {
				s.pool.Stop()
			}
			if s.stopOnError {
				s.fatalErr = bf
				s.pool.Abort()
			}
			return
		}
		s.fatalErr = err
		s.pool.Abort()
		return
	}

	wr, _ := res.(workResult)
	if wr.skipped {
		s.publish(telemetry.Event{Type: telemetry.EventTaskSkipped, Project: proj.Name, Tool: info.Name})
	} else {
		s.publish(telemetry.Event{Type: telemetry.EventTaskSucceeded, Project: proj.Name, Tool: info.Name})
	}
	s.maybeDeactivate(proj, info)
	s.processOutputs(proj, t, inputs, wr.outputs, wr.skipped)

	if s.runningBuilds == 0 {
		s.pool.Stop()
	}
}

// maybeDeactivate is the tool completion check from §4.5 step 2.
func (s *Scheduler) maybeDeactivate(proj *project.Project, info toolchain.ToolInfo) {
	if !proj.Toolchain.IsToolActive(info.Name) {
		return
	}
	for ext := range info.InputFiles {
		if len(proj.Pool(ext).Unconsumed(info.Name)) > 0 {
			return
		}
	}
	for ext := range info.InputFiles {
		if proj.Toolchain.IsOutputActive(ext) {
			return
		}
	}
	for ext := range info.InputGroups {
		if proj.Toolchain.IsOutputActive(ext) {
			return
		}
	}
	proj.Toolchain.DeactivateTool(info.Name)
	s.publish(telemetry.Event{Type: telemetry.EventToolDone, Project: proj.Name, Tool: info.Name})
}

// processOutputs is §4.5 step 3: record the artifact, register each
// output as a new InputFile, fan out to waiting single-input tools, and
// probe for work unblocked by an extension going inactive.
func (s *Scheduler) processOutputs(proj *project.Project, t tool.Tool, inputs []*inputfile.File, outputs []string, skipped bool) {
	if skipped {
		proj.CarryForwardSkipped(inputs)
	} else {
		proj.AddArtifact(inputs, outputs)
	}

	var inputExt string
	hasInputExt := len(inputs) > 0
	if hasInputExt {
		inputExt = inputs[0].Ext()
	}

	// Register every output before probing, so a group tool unblocked by
	// the first output's extension going inactive also sees the rest.
	newFiles := make([]*inputfile.File, len(outputs))
	for i, outPath := range outputs {
		sameExt := hasInputExt && filepath.Ext(outPath) == inputExt
		newFiles[i] = inputfile.Derived(outPath, inputs, sameExt, skipped)
		proj.AddInput(newFiles[i])
	}

	for i, outPath := range outputs {
		outExt := filepath.Ext(outPath)
		nf := newFiles[i]

		for _, t2 := range s.toolsOf[proj] {
			info2 := t2.Info()
			if !proj.Toolchain.IsToolActive(info2.Name) {
				continue
			}
			if _, reads := info2.InputFiles[outExt]; !reads {
				continue
			}
			if nf.WasToolUsed(info2.Name) {
				continue
			}
			if !s.dependenciesMet(proj, info2) || !s.canRun(info2) {
				continue
			}
			s.enqueueSingle(proj, t2, nf, false)
		}

		if !proj.Toolchain.IsOutputActive(outExt) {
			s.probeProject(proj)
		}

		for _, downstream := range s.projectsWithCrossProjectDeps {
			for _, t2 := range s.toolsOf[downstream] {
				info2 := t2.Info()
				if !downstream.Toolchain.IsToolActive(info2.Name) {
					continue
				}
				if _, waits := info2.CrossProjectDependencies[outExt]; !waits {
					continue
				}
				if !s.dependenciesMet(downstream, info2) || !s.canRun(info2) {
					continue
				}
				s.enqueueByKind(downstream, t2, info2)
			}
		}
	}
}

// probeProject probes every active tool of proj for newly unblocked work:
// null-input tools (once), per-file tools (once per unused input, up to
// MaxParallel), and group tools (if getGroupInputFiles yields a batch).
func (s *Scheduler) probeProject(proj *project.Project) {
	for _, t := range s.toolsOf[proj] {
		info := t.Info()
		if !proj.Toolchain.IsToolActive(info.Name) {
			continue
		}
		if !s.dependenciesMet(proj, info) {
			continue
		}
		s.enqueueByKind(proj, t, info)
	}
}

// enqueueByKind applies the null/single/group dispatch rule to a tool
// that has just become eligible, respecting the concurrency cap and the
// once-only dispatch of null and group tools.
func (s *Scheduler) enqueueByKind(proj *project.Project, t tool.Tool, info toolchain.ToolInfo) {
	switch {
	case isNullInput(info):
		if s.nullEnqueued[proj][info.Name] || !s.canRun(info) {
			return
		}
		s.nullEnqueued[proj][info.Name] = true
		s.enqueueNull(proj, t)

	case len(info.InputGroups) > 0:
		if s.groupEnqueued[proj][info.Name] || !s.canRun(info) {
			return
		}
		files := s.getGroupInputFiles(proj, info)
		if len(files) == 0 {
			return
		}
		s.groupEnqueued[proj][info.Name] = true
		s.enqueueGroup(proj, t, files)

	default:
		for ext := range info.InputFiles {
			for _, f := range proj.Pool(ext).Unconsumed(info.Name) {
				if !s.canRun(info) {
					return
				}
				s.enqueueSingle(proj, t, f, false)
			}
		}
	}
}
