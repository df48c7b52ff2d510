package graphcorral

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Graph is a handle to the graph view selected by a computation
type Graph struct {
	// Location is where the graph data is stored
	Location    string
	ResultGraph ResultGraph
	Persist     Persist
	// HasEdges reports whether the graph data at Location carries edges
	HasEdges bool
}

// Result is the outcome of a successful computation
type Result struct {
	Graph   Graph
	Memory  Snapshot
	Runtime time.Duration
}

// Future resolves to the Result of a submitted computation.
// Abandoning a Future does not stop the computation.
type Future struct {
	submissionID string
	done         chan struct{}
	delivered    atomic.Bool

	result *Result
	err    error
}

func newFuture(submissionID string) *Future {
	return &Future{
		submissionID: submissionID,
		done:         make(chan struct{}),
	}
}

// SubmissionID identifies the submission this Future belongs to
func (f *Future) SubmissionID() string {
	return f.submissionID
}

// Done is closed once the computation has finished
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for the computation to finish and returns its result.
// It returns early with ctx.Err() when ctx is done first.
func (f *Future) Get(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver publishes the final outcome. Exactly one delivery succeeds;
// later deliveries fail rather than overwrite the first.
func (f *Future) deliver(result *Result, err error) error {
	if !f.delivered.CompareAndSwap(false, true) {
		return fmt.Errorf("%w for submission %s", ErrResultAlreadyDelivered, f.submissionID)
	}
	f.result = result
	f.err = err
	close(f.done)
	return nil
}
