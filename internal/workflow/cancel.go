package workflow

import "sync"

// Canceller carries an advisory cancellation request for one run. The
// executor checks it before launching each node; nodes already running are
// left to finish or time out on their own.
type Canceller struct {
	once sync.Once
	ch   chan struct{}
}

// NewCanceller creates a Canceller that has not been triggered.
func NewCanceller() *Canceller {
	return &Canceller{ch: make(chan struct{})}
}

// Cancel requests cancellation. Calling it more than once is a no-op.
func (c *Canceller) Cancel() {
	c.once.Do(func() { close(c.ch) })
}

// Cancelled reports whether Cancel has been called.
func (c *Canceller) Cancelled() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once Cancel is called. A nil Canceller
// never fires.
func (c *Canceller) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.ch
}
