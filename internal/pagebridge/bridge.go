package pagebridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
	"github.com/dgnsrekt/p2pml_bridge/internal/transport"
)

var (
	// ErrInitCanceled fails an init superseded by a newer one.
	ErrInitCanceled = errors.New("pagebridge: init canceled by a newer init")
	// ErrDestroyed fails an init still pending when the bridge is destroyed.
	ErrDestroyed = errors.New("pagebridge: bridge destroyed")
	// ErrNotConnected is returned when no channel is open.
	ErrNotConnected = errors.New("pagebridge: no channel to worker")
)

// Channel is the page end of a dedicated channel.
type Channel interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive() (protocol.Message, error)
	Close() error
}

// Dialer opens a new channel to the worker.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Channel, error)

func (f DialFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// WebSocketDialer dials the worker's port endpoint at url.
func WebSocketDialer(url string) Dialer {
	return DialFunc(func(ctx context.Context) (Channel, error) {
		return transport.Dial(ctx, url)
	})
}

// Resolver answers fetch notifications. children is non-nil when url is a
// manifest.
type Resolver interface {
	Resolve(ctx context.Context, url string) (resp *protocol.Response, children []string, err error)
}

// Options configures a Bridge.
type Options struct {
	// ClientID identifies the page to the worker. Empty lets the worker
	// assign one.
	ClientID string
	// Resolver, when set, answers every fetch notification.
	Resolver       Resolver
	ResolveTimeout time.Duration
	// OnFetch is called with every URL the worker asks for.
	OnFetch func(url string)
}

// Bridge is the page side of the worker protocol. It holds at most one
// channel and at most one outstanding init.
type Bridge struct {
	dialer Dialer
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	ch        Channel
	pending   *InitResult
	destroyed bool
}

// New creates a bridge that opens channels with dialer.
func New(dialer Dialer, opts Options) *Bridge {
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{dialer: dialer, opts: opts, ctx: ctx, cancel: cancel}
}

// Init opens a fresh channel and registers streamURL with the worker. The
// result settles when the worker reports ready. An init still pending is
// failed with ErrInitCanceled and its channel closed first.
func (b *Bridge) Init(ctx context.Context, streamURL string, workerActive bool) *InitResult {
	r := newInitResult(streamURL)

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		r.fail(ErrDestroyed)
		return r
	}
	if b.pending != nil {
		b.pending.fail(ErrInitCanceled)
	}
	prev := b.ch
	b.ch = nil
	b.pending = r
	b.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	ch, err := b.dialer.Dial(ctx)
	if err != nil {
		r.fail(err)
		b.clearPending(r)
		return r
	}

	b.mu.Lock()
	if b.pending != r {
		// Superseded or destroyed while dialing.
		b.mu.Unlock()
		_ = ch.Close()
		return r
	}
	b.ch = ch
	b.mu.Unlock()

	if err := ch.Send(ctx, protocol.Init(b.opts.ClientID, streamURL, workerActive)); err != nil {
		r.fail(fmt.Errorf("pagebridge: send init: %w", err))
		b.clearPending(r)
		return r
	}

	b.wg.Add(1)
	go b.readLoop(ch, r)

	slog.Info("bridge initialized", "client_id", b.opts.ClientID, "stream_url", streamURL, "worker_active", workerActive)
	return r
}

// Resolve answers the worker's fetch for url with resp.
func (b *Bridge) Resolve(ctx context.Context, url string, resp *protocol.Response) error {
	return b.send(ctx, protocol.Fetched(url, resp, nil))
}

// ResolveManifest answers a manifest fetch and declares its children.
func (b *Bridge) ResolveManifest(ctx context.Context, url string, resp *protocol.Response, children []string) error {
	if children == nil {
		children = []string{}
	}
	return b.send(ctx, protocol.Fetched(url, resp, children))
}

// Fail answers the worker's fetch for url with an error.
func (b *Bridge) Fail(ctx context.Context, url string, cause error) error {
	return b.send(ctx, protocol.Failed(url, cause))
}

// Destroy closes the channel and fails a pending init with ErrDestroyed.
func (b *Bridge) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	pending := b.pending
	b.pending = nil
	ch := b.ch
	b.ch = nil
	b.mu.Unlock()

	if pending != nil {
		pending.fail(ErrDestroyed)
	}
	b.cancel()
	if ch != nil {
		_ = ch.Close()
	}
	b.wg.Wait()
	slog.Info("bridge destroyed", "client_id", b.opts.ClientID)
}

func (b *Bridge) send(ctx context.Context, msg protocol.Message) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Send(ctx, msg)
}

func (b *Bridge) clearPending(r *InitResult) {
	b.mu.Lock()
	if b.pending == r {
		b.pending = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) readLoop(ch Channel, r *InitResult) {
	defer b.wg.Done()
	for {
		msg, err := ch.Receive()
		if errors.Is(err, transport.ErrMalformed) {
			slog.Warn("dropping malformed worker message", "error", err)
			continue
		}
		if err != nil {
			if r.fail(fmt.Errorf("pagebridge: channel closed: %w", err)) {
				b.clearPending(r)
			}
			slog.Debug("bridge channel closed", "client_id", b.opts.ClientID, "error", err)
			return
		}

		switch msg.Type {
		case protocol.TypeReady:
			if r.succeed(msg.Version) {
				b.clearPending(r)
				slog.Info("worker ready", "stream_url", msg.StreamURL, "version", msg.Version)
			}
		case protocol.TypeFetch:
			b.handleFetch(ch, msg.URL)
		default:
			slog.Debug("ignoring worker message", "type", msg.Type)
		}
	}
}

func (b *Bridge) handleFetch(ch Channel, url string) {
	slog.Debug("fetch requested", "client_id", b.opts.ClientID, "url", url)
	if b.opts.OnFetch != nil {
		b.opts.OnFetch(url)
	}
	if b.opts.Resolver == nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.opts.ResolveTimeout)
		defer cancel()

		resp, children, err := b.opts.Resolver.Resolve(ctx, url)
		msg := protocol.Fetched(url, resp, children)
		if err != nil {
			slog.Warn("resolve failed", "url", url, "error", err)
			msg = protocol.Failed(url, err)
		}
		if err := ch.Send(ctx, msg); err != nil {
			slog.Debug("fetched reply not sent", "url", url, "error", err)
		}
	}()
}
