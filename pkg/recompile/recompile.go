// Package recompile implements the pluggable per-tool policy that decides
// whether a task's inputs (and their declared dependencies) are newer than
// its prior output, grounded on the teacher's interface-with-default-impl
// pattern (an interface plus one concrete default satisfying it).
package recompile

import (
	"os"

	"github.com/odvcencio/csforge/pkg/inputfile"
)

// LastResult looks up the output paths produced for a given set of inputs
// on the previous run. Implemented by pkg/project.Project.
type LastResult interface {
	GetLastResult(inputs []*inputfile.File) []string
}

// Checker is the per-tool recompile policy. The default is MTimeChecker;
// tools may supply their own via an optional tool.Checkable interface to
// fold in dependency scanning (e.g. C++ header includes).
type Checker interface {
	// GetRecompileValue returns an opaque, comparable value for a single
	// file. The default uses modification time.
	GetRecompileValue(f *inputfile.File) (int64, error)

	// CondenseRecompileChecks folds a list of per-file values (the input
	// plus its dependencies) into one value. The default takes the max.
	CondenseRecompileChecks(values []int64) int64

	// GetDependencies returns additional paths whose values must be
	// folded into the condensed value for f (e.g. header includes). The
	// default returns none.
	GetDependencies(f *inputfile.File) []string

	// GetRecompileBaseline returns the value representing the prior
	// output for inputs, or ok=false to force a recompile.
	GetRecompileBaseline(proj LastResult, inputs []*inputfile.File) (value int64, ok bool)

	// ShouldRecompile compares a condensed value against the baseline.
	// The default recompiles when condensed is strictly newer.
	ShouldRecompile(condensed int64, baseline int64) bool
}

// MTimeChecker is the default Checker: modification-time based, no extra
// dependency scanning.
type MTimeChecker struct{}

var _ Checker = MTimeChecker{}

// GetRecompileValue returns the file's modification time as a Unix
// nanosecond timestamp.
func (MTimeChecker) GetRecompileValue(f *inputfile.File) (int64, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// CondenseRecompileChecks returns the maximum (most recent) value.
func (MTimeChecker) CondenseRecompileChecks(values []int64) int64 {
	var max int64
	for i, v := range values {
		if i == 0 || v > max {
			max = v
		}
	}
	return max
}

// GetDependencies returns no additional dependencies by default.
func (MTimeChecker) GetDependencies(f *inputfile.File) []string {
	return nil
}

// GetRecompileBaseline returns the minimum modification time across the
// prior run's output paths for inputs, or ok=false if there was no prior
// run or any output is missing.
func (MTimeChecker) GetRecompileBaseline(proj LastResult, inputs []*inputfile.File) (int64, bool) {
	lastFiles := proj.GetLastResult(inputs)
	if lastFiles == nil {
		return 0, false
	}
	var min int64
	first := true
	for _, out := range lastFiles {
		info, err := os.Stat(out)
		if err != nil {
			return 0, false
		}
		v := info.ModTime().UnixNano()
		if first || v < min {
			min = v
			first = false
		}
	}
	return min, true
}

// ShouldRecompile reports whether condensed is strictly newer than
// baseline.
func (MTimeChecker) ShouldRecompile(condensed int64, baseline int64) bool {
	return condensed > baseline
}

// Condense computes the fully-folded recompile value for f: its own value
// combined with the values of its declared dependencies, recursively.
func Condense(c Checker, f *inputfile.File) (int64, error) {
	own, err := c.GetRecompileValue(f)
	if err != nil {
		return 0, err
	}
	values := []int64{own}
	seen := map[string]bool{f.Path: true}
	pending := c.GetDependencies(f)
	for len(pending) > 0 {
		depPath := pending[0]
		pending = pending[1:]
		if seen[depPath] {
			continue
		}
		seen[depPath] = true
		dep := inputfile.New(depPath)
		v, err := c.GetRecompileValue(dep)
		if err != nil {
			continue
		}
		values = append(values, v)
		pending = append(pending, c.GetDependencies(dep)...)
	}
	return c.CondenseRecompileChecks(values), nil
}
