package broker

import "fmt"

// ComputationError wraps a JointEngine failure during reset or step. The
// joint state cannot be trusted after a partial failure, so the cohort that
// triggered it is never answered and never retried; the error is handed to
// the Coordinator's failure handler, whose default logs the full trace and
// terminates the process.
type ComputationError struct {
	Op  string // "reset" or "step"
	Err error
}

// Error implements the error interface.
func (e *ComputationError) Error() string {
	return fmt.Sprintf("joint %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying engine error.
func (e *ComputationError) Unwrap() error {
	return e.Err
}
