package scheduler

import "fmt"

// BuildFailure is the structured error a tool invocation returns when the
// underlying command fails. The coordinator counts and logs it but keeps
// scheduling other work unless running with stop-on-error.
type BuildFailure struct {
	Project string
	Inputs  []string
	Err     error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build failed in project %q for inputs %v: %v", e.Project, e.Inputs, e.Err)
}

// Unwrap exposes the underlying tool error for errors.Is/As.
func (e *BuildFailure) Unwrap() error {
	return e.Err
}
