// Package util has small pieces of shared plumbing.
package util

import "context"

// A Gate limits concurrency. Every gate has a maximum number of
// goroutines to allow through at a time. Goroutines enter the gate by
// calling Enter(), and signal that they are done by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks the calling goroutine until there are fewer than n
// goroutines inside the gate, or until ctx is done, in which case the
// context's error is returned and the goroutine is not inside the gate.
// It is safe to call this from multiple goroutines.
func (g Gate) Enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave marks a goroutine outside the critical section. It is important
// to balance each successful call to Enter with a call to Leave. Enter
// and Leave do not need to be called from the same goroutine,
// necessarily.
func (g Gate) Leave() {
	<-g
}
