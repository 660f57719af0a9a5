package worker

import (
	"context"
	"time"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
)

// Port is the worker's end of the dedicated channel to one page.
type Port interface {
	Post(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Platform is the host environment the worker runs in.
type Platform interface {
	// Clients lists the ids of pages that currently exist.
	Clients(ctx context.Context) ([]string, error)
	// Claim takes control of interception for every live page.
	Claim(ctx context.Context) error
}

// Event kinds reported to an Observer.
const (
	EventSessionCreated   = "session_created"
	EventSessionReady     = "session_ready"
	EventSessionDestroyed = "session_destroyed"
	EventFetchIntercepted = "fetch_intercepted"
	EventFetchSettled     = "fetch_settled"
	EventFetchFailed      = "fetch_failed"
)

// Event is a lifecycle record emitted by the registry.
type Event struct {
	Kind       string    `json:"kind"`
	ClientID   string    `json:"client_id"`
	StreamURL  string    `json:"stream_url,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

// Observer receives registry events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}
