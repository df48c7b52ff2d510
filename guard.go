package graphcorral

import "sync/atomic"

// submissionGuard lets a computer execute its pipeline at most once
type submissionGuard struct {
	executed atomic.Bool
}

// trySubmit marks the guard as executed. Only the first caller succeeds.
func (g *submissionGuard) trySubmit() error {
	if !g.executed.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	return nil
}

func (g *submissionGuard) submitted() bool {
	return g.executed.Load()
}
