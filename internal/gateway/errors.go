package gateway

import "fmt"

// The four operation error kinds. The loop handles them uniformly (any call
// failure is fatal); the types exist so logs and tests can tell which
// boundary operation fell over.

type PlanningError struct{ Err error }

func (e *PlanningError) Error() string { return fmt.Sprintf("planning: %v", e.Err) }
func (e *PlanningError) Unwrap() error { return e.Err }

type ExecutionError struct{ Err error }

func (e *ExecutionError) Error() string { return fmt.Sprintf("execution: %v", e.Err) }
func (e *ExecutionError) Unwrap() error { return e.Err }

type VerificationError struct{ Err error }

func (e *VerificationError) Error() string { return fmt.Sprintf("verification: %v", e.Err) }
func (e *VerificationError) Unwrap() error { return e.Err }

type FixError struct{ Err error }

func (e *FixError) Error() string { return fmt.Sprintf("fix: %v", e.Err) }
func (e *FixError) Unwrap() error { return e.Err }
