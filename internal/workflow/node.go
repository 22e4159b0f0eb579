package workflow

import (
	"context"

	"github.com/spoton/recommendation-service/internal/domain"
)

// Result is what a node hands back to the executor.
//
// A node reports its own failures through Err (or Status failed) instead of
// panicking; the executor turns them into an isolated node failure. When a
// node fails its Update is discarded.
type Result struct {
	Update Update
	Status domain.NodeStatus
	Err    error

	// Message is an optional one-line summary attached to the end event.
	Message string
}

// Completed returns a completed result carrying u.
func Completed(u Update) Result {
	return Result{Update: u, Status: domain.NodeStatusCompleted}
}

// Partial returns a partial result carrying u.
func Partial(u Update) Result {
	return Result{Update: u, Status: domain.NodeStatusPartial}
}

// Skipped returns a skipped result carrying u.
func Skipped(u Update) Result {
	return Result{Update: u, Status: domain.NodeStatusSkipped}
}

// Failed returns a failed result for err.
func Failed(err error) Result {
	return Result{Status: domain.NodeStatusFailed, Err: err}
}

// failed reports whether r must be handled as a node failure.
func (r Result) failed() bool {
	return r.Err != nil || r.Status == domain.NodeStatusFailed
}

// Node is one step of a workflow. Execute reads the state snapshot it is
// given and returns a partial update; it must honour ctx cancellation.
type Node interface {
	Execute(ctx context.Context, state View) Result
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, state View) Result

// Execute calls f.
func (f NodeFunc) Execute(ctx context.Context, state View) Result {
	return f(ctx, state)
}
