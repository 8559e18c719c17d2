// Package driver assembles the ledger, logger, worker pool, and
// scheduler into one build run, and owns the two pieces of orchestration
// that sit outside the scheduler's scheduling concerns: opening/closing
// per-project ledgers around a run, and clean mode.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/csforge/pkg/logging"
	"github.com/odvcencio/csforge/pkg/project"
	"github.com/odvcencio/csforge/pkg/scheduler"
	"github.com/odvcencio/csforge/pkg/telemetry"
	"github.com/odvcencio/csforge/pkg/tool"
	"github.com/odvcencio/csforge/pkg/workerpool"
)

// Driver runs one build across a fixed set of projects.
type Driver struct {
	Workers     int
	StopOnError bool
	Logger      *logging.Logger

	// Hub, if set, receives task lifecycle events for the whole run. A nil
	// Hub disables publishing entirely.
	Hub *telemetry.Hub
}

// New creates a Driver. logger may be nil.
func New(workers int, stopOnError bool, logger *logging.Logger) *Driver {
	return &Driver{Workers: workers, StopOnError: stopOnError, Logger: logger}
}

// Result is the outcome of one Run call.
type Result struct {
	Failures int
}

// Run opens each project's ledger, seeds its artifact history, runs the
// scheduler to completion, then persists every project's artifacts back
// to its ledger and closes every ledger handle. If the scheduler returns
// an error, nothing is persisted for any project.
func (d *Driver) Run(ctx context.Context, projects []*project.Project, toolsOf map[*project.Project][]tool.Tool) (Result, error) {
	ledgers := make(map[*project.Project]*ledgerHandle, len(projects))
	defer func() {
		for _, lh := range ledgers {
			lh.ledger.Close()
		}
	}()

	for _, proj := range projects {
		lh, err := openLedgerFor(ctx, proj)
		if err != nil {
			return Result{}, fmt.Errorf("driver: opening ledger for %s: %w", proj.Name, err)
		}
		ledgers[proj] = lh

		artifacts, err := lh.ledger.LoadAll(ctx, proj.Name)
		if err != nil {
			return Result{}, fmt.Errorf("driver: loading prior artifacts for %s: %w", proj.Name, err)
		}
		proj.LoadArtifacts(artifacts)
	}

	pool := workerpool.New(d.Workers)
	sched := scheduler.New(pool, d.StopOnError, d.Logger, d.Hub)
	for _, proj := range projects {
		if err := sched.AddProject(proj, toolsOf[proj]); err != nil {
			return Result{}, fmt.Errorf("driver: setting up project %s: %w", proj.Name, err)
		}
	}

	failures, err := sched.Run(ctx)
	if err != nil {
		return Result{Failures: failures}, err
	}

	for _, proj := range projects {
		artifacts := proj.CommitArtifacts()
		if err := ledgers[proj].ledger.ReplaceAll(ctx, proj.Name, artifacts); err != nil {
			return Result{Failures: failures}, fmt.Errorf("driver: persisting artifacts for %s: %w", proj.Name, err)
		}
	}

	return Result{Failures: failures}, nil
}

// Clean removes every path recorded in each project's prior-run ledger,
// then, unless keepDirs is set, removes the project's intermediate and
// output directories bottom-up as long as each remaining level is empty.
// Ported from the original's _clean/_rmDirIfPossible: clean mode never
// consults the scheduler, since it only needs the ledger's record of
// what a prior run produced.
func Clean(ctx context.Context, projects []*project.Project, keepDirs bool) error {
	for _, proj := range projects {
		lh, err := openLedgerFor(ctx, proj)
		if err != nil {
			return fmt.Errorf("driver: opening ledger for %s: %w", proj.Name, err)
		}

		artifacts, err := lh.ledger.LoadAll(ctx, proj.Name)
		if err != nil {
			lh.ledger.Close()
			return fmt.Errorf("driver: loading artifacts for %s: %w", proj.Name, err)
		}

		for _, outputs := range artifacts {
			for _, path := range outputs {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					lh.ledger.Close()
					return fmt.Errorf("driver: removing artifact %s: %w", path, err)
				}
			}
		}

		if err := lh.ledger.ReplaceAll(ctx, proj.Name, nil); err != nil {
			lh.ledger.Close()
			return fmt.Errorf("driver: clearing ledger for %s: %w", proj.Name, err)
		}
		lh.ledger.Close()

		if keepDirs {
			continue
		}
		rmDirIfPossible(proj.IntermediateDir)
		rmDirIfPossible(proj.OutputDir)
	}
	return nil
}

// rmDirIfPossible removes dir and walks its parents upward, stopping at
// the first directory that still has entries (or isn't removable),
// mirroring the original's conservative "only clean up after yourself"
// directory removal.
func rmDirIfPossible(dir string) {
	for dir != "" && dir != string(filepath.Separator) && dir != "." {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
