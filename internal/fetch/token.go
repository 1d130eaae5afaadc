package fetch

import (
	"sync"
	"sync/atomic"
)

// Token is a cooperative cancellation flag shared between a job and its fetch run.
// Cancelling never interrupts a batch already dispatched.
type Token struct {
	canceled atomic.Bool
	once     sync.Once
	done     chan struct{}
}

// NewToken creates an unset token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.canceled.Store(true)
		close(t.done)
	})
}

// Canceled reports whether Cancel was called.
func (t *Token) Canceled() bool {
	return t.canceled.Load()
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
