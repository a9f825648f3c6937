package guard

import "context"

// Binding adapts one provider entry point: how to find the user text in its
// parameters, and how to make the real call once the text is cleared.
type Binding[P, R any] struct {
	Name     string
	Extract  func(P) string
	Delegate func(context.Context, P) (R, error)
}

// Call scans, then delegates. The delegate receives params unchanged and its
// result is returned verbatim.
func Call[P, R any](ctx context.Context, g *Guard, b Binding[P, R], params P) (R, error) {
	if _, err := g.Check(ctx, b.Name, b.Extract(params)); err != nil {
		var zero R
		return zero, err
	}
	return b.Delegate(ctx, params)
}

// Go runs Call on its own goroutine. Cancelling ctx abandons an in-flight scan
// and the delegate is not started.
func Go[P, R any](ctx context.Context, g *Guard, b Binding[P, R], params P) *Future[R] {
	f := &Future[R]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = Call(ctx, g, b, params)
	}()
	return f
}

// Failed returns a Future that is already resolved with err.
func Failed[R any](err error) *Future[R] {
	f := &Future[R]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Future is the pending result of an asynchronous guarded call.
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
}

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Wait blocks until the call completes or ctx is done. Giving up on the wait
// does not cancel the call; cancel the context passed to Go for that.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
