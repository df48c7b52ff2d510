package graphcorral

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is matched by every error that is detected before
// any job is launched because the computer is configured incorrectly.
var ErrInvalidConfiguration = errors.New("invalid graph computer configuration")

var (
	// ErrNoComputation is returned when neither a vertex program nor any
	// map reducers were declared.
	ErrNoComputation = fmt.Errorf("%w: the computer has no vertex program nor map reducers", ErrInvalidConfiguration)

	// ErrIsolationNotSupported is returned by Submit when an isolation level
	// other than BSP was requested.
	ErrIsolationNotSupported = fmt.Errorf("%w: isolation level is not supported", ErrInvalidConfiguration)

	// ErrProgramRequirements is returned when the vertex program requires
	// something the computer does not provide.
	ErrProgramRequirements = fmt.Errorf("%w: vertex program requirements are not met", ErrInvalidConfiguration)

	// ErrAlreadySubmitted is returned when Submit is called more than once.
	ErrAlreadySubmitted = errors.New("the computer has already been submitted")

	// ErrInputNotFound is returned when the vertex program input location
	// does not exist.
	ErrInputNotFound = errors.New("input location does not exist")

	// ErrUndeclaredMemoryKey is returned when a phase contributes a memory key
	// it did not declare.
	ErrUndeclaredMemoryKey = errors.New("memory key was not declared by the contributing phase")

	// ErrResultAlreadyDelivered is returned when a second final result is
	// delivered for the same submission.
	ErrResultAlreadyDelivered = errors.New("a final result was already delivered")
)

// CombinationError describes an unsupported ResultGraph and Persist pairing
type CombinationError struct {
	ResultGraph ResultGraph
	Persist     Persist
}

func (e *CombinationError) Error() string {
	return fmt.Sprintf("the following result graph and persist combination is not supported: %s + %s", e.ResultGraph, e.Persist)
}

// Is makes a CombinationError match ErrInvalidConfiguration
func (e *CombinationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// JobKind identifies which engine ran a failed job
type JobKind string

const (
	VertexProgramJob JobKind = "vertex-program"
	MapReduceJobKind JobKind = "map-reduce"
)

// JobError wraps a failure reported by an external engine
type JobError struct {
	Kind JobKind
	Name string
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s job %q failed: %s", e.Kind, e.Name, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
