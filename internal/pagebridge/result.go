package pagebridge

import (
	"context"
	"sync"
)

// InitResult is the outcome of one Init call. It settles once.
type InitResult struct {
	StreamURL string

	once    sync.Once
	done    chan struct{}
	version string
	err     error
}

func newInitResult(streamURL string) *InitResult {
	return &InitResult{StreamURL: streamURL, done: make(chan struct{})}
}

func (r *InitResult) succeed(version string) bool {
	return r.settle(version, nil)
}

func (r *InitResult) fail(err error) bool {
	return r.settle("", err)
}

func (r *InitResult) settle(version string, err error) bool {
	settled := false
	r.once.Do(func() {
		r.version, r.err = version, err
		close(r.done)
		settled = true
	})
	return settled
}

// Done is closed once the result has settled.
func (r *InitResult) Done() <-chan struct{} { return r.done }

// Result returns the worker version or the failure. Valid after Done.
func (r *InitResult) Result() (string, error) {
	<-r.done
	return r.version, r.err
}

// Wait blocks until the result settles or ctx ends.
func (r *InitResult) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
