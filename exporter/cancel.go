package exporter

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrCancelled is the failure message of a send aborted through its token.
	ErrCancelled = errors.New("operation was cancelled")
	// ErrReleased is returned when a token is released more than once.
	ErrReleased = errors.New("cancellation token already released")
)

// CancellationToken aborts an in-flight Send. Cancel may be called from any
// goroutine, any number of times, before, during or after the send.
type CancellationToken struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	released  atomic.Bool
}

// NewCancellationToken returns a token that has not been cancelled.
func NewCancellationToken() *CancellationToken {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancellationToken{ctx: ctx, cancel: cancel}
}

// Cancel requests that the send using t stops as soon as possible.
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Cancelled reports whether Cancel has been called.
func (t *CancellationToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed once the token is cancelled or released.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Release frees the token. It must be called exactly once, after the send
// using it has returned.
func (t *CancellationToken) Release() error {
	if !t.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	t.cancel()
	return nil
}

// Released reports whether Release has been called.
func (t *CancellationToken) Released() bool {
	return t.released.Load()
}
