package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
)

type fakePort struct {
	mu      sync.Mutex
	sent    []protocol.Message
	closed  int
	postErr error
}

func (p *fakePort) Post(_ context.Context, msg protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.postErr != nil {
		return p.postErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePort) messages() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *fakePort) ofType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, m := range p.messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakePlatform struct {
	mu       sync.Mutex
	clients  []string
	claimed  int
	listErr  error
	claimErr error
}

func (p *fakePlatform) Clients(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]string, len(p.clients))
	copy(out, p.clients)
	return out, nil
}

func (p *fakePlatform) Claim(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claimed++
	return p.claimErr
}

func (p *fakePlatform) setClients(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = ids
}

var errPortGone = errors.New("port gone")
