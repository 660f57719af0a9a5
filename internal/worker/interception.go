package worker

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
)

// Interception is one suspended fetch. It settles exactly once, either with
// a response or with an error.
type Interception struct {
	ClientID string
	URL      string
	Started  time.Time

	once sync.Once
	done chan struct{}
	resp *protocol.Response
	err  error
}

func newInterception(clientID, url string) *Interception {
	return &Interception{
		ClientID: clientID,
		URL:      url,
		Started:  time.Now(),
		done:     make(chan struct{}),
	}
}

func (i *Interception) resolve(resp *protocol.Response) bool {
	return i.settle(resp, nil)
}

func (i *Interception) reject(err error) bool {
	return i.settle(nil, err)
}

func (i *Interception) settle(resp *protocol.Response, err error) bool {
	settled := false
	i.once.Do(func() {
		i.resp, i.err = resp, err
		close(i.done)
		settled = true
	})
	return settled
}

// Done is closed once the interception is settled.
func (i *Interception) Done() <-chan struct{} {
	return i.done
}

// Result returns the settlement. Only meaningful after Done is closed.
func (i *Interception) Result() (*protocol.Response, error) {
	select {
	case <-i.done:
		return i.resp, i.err
	default:
		return nil, nil
	}
}

// Wait blocks until the interception settles or ctx ends.
func (i *Interception) Wait(ctx context.Context) (*protocol.Response, error) {
	select {
	case <-i.done:
		return i.resp, i.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
