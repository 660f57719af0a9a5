package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
)

// Options configures a Registry.
type Options struct {
	// Version is reported to pages in ready messages.
	Version string
	// FetchTimeout bounds Await. Zero waits until settlement or destruction.
	FetchTimeout time.Duration
	Observer     Observer
}

// Registry owns every client session of one worker and routes lifecycle and
// network events to them.
type Registry struct {
	platform     Platform
	version      string
	fetchTimeout time.Duration
	observer     Observer

	mu        sync.Mutex
	sessions  map[string]*Session
	activated bool
}

// NewRegistry creates an empty registry bound to platform.
func NewRegistry(platform Platform, opts Options) *Registry {
	obs := opts.Observer
	if obs == nil {
		obs = Observers()
	}
	return &Registry{
		platform:     platform,
		version:      opts.Version,
		fetchTimeout: opts.FetchTimeout,
		observer:     obs,
		sessions:     make(map[string]*Session),
	}
}

// Version returns the version reported in ready messages.
func (r *Registry) Version() string { return r.version }

// Activate claims the live pages and marks the sessions already registered
// for them ready.
func (r *Registry) Activate(ctx context.Context) error {
	if err := r.platform.Claim(ctx); err != nil {
		return newError(CodePlatform, "claim clients", err)
	}
	live, err := r.platform.Clients(ctx)
	if err != nil {
		return newError(CodePlatform, "list clients", err)
	}

	r.mu.Lock()
	first := !r.activated
	r.activated = true
	var notify []*Session
	for _, id := range live {
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		if s.markReady() {
			notify = append(notify, s)
		}
	}
	r.mu.Unlock()

	level := slog.LevelDebug
	if first || len(notify) > 0 {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "worker activated", "live_clients", len(live), "sessions_readied", len(notify))
	for _, s := range notify {
		r.sendReady(ctx, s)
	}
	return nil
}

// Dispatch routes a page message to its handler.
func (r *Registry) Dispatch(ctx context.Context, clientID string, msg protocol.Message, port Port) error {
	switch msg.Type {
	case protocol.TypeInit:
		return r.HandleInit(ctx, clientID, msg, port)
	case protocol.TypeFetched:
		r.HandleFetched(clientID, msg)
		return nil
	default:
		return newError(CodeValidation, fmt.Sprintf("unexpected message type %q from page", msg.Type), nil)
	}
}

// HandleInit registers or replaces the session for clientID, announces
// readiness when interception is already active and reclaims sessions of
// pages that no longer exist.
func (r *Registry) HandleInit(ctx context.Context, clientID string, msg protocol.Message, port Port) error {
	if clientID == "" {
		return newError(CodeValidation, "init without client id", nil)
	}
	if msg.StreamURL == "" {
		return newError(CodeValidation, "init without stream url", nil)
	}

	s := NewSession(clientID, msg.StreamURL, port)

	r.mu.Lock()
	prev := r.sessions[clientID]
	r.sessions[clientID] = s
	ready := (msg.IsServiceWorkerActive || r.activated) && s.markReady()
	r.mu.Unlock()

	if prev != nil {
		r.destroySession(prev, newError(CodeSuperseded, "client re-initialized", nil), prev.port != port)
	}

	slog.Info("client session registered", "client_id", clientID, "stream_url", msg.StreamURL, "ready", ready)
	r.observe(Event{Kind: EventSessionCreated, ClientID: clientID, StreamURL: msg.StreamURL})

	if ready {
		r.sendReady(ctx, s)
	}

	if err := r.Collect(ctx, clientID); err != nil {
		slog.Warn("client garbage pass failed", "error", err)
	}
	return nil
}

// HandleFetched settles the pending fetch for msg.URL. A reply with no
// matching pending fetch changes nothing.
func (r *Registry) HandleFetched(clientID string, msg protocol.Message) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if !ok {
		r.mu.Unlock()
		slog.Debug("fetched for unknown client", "client_id", clientID, "url", msg.URL)
		return
	}
	i := s.take(msg.URL)
	if i == nil {
		r.mu.Unlock()
		slog.Debug("fetched without pending request", "client_id", clientID, "url", msg.URL)
		return
	}
	if msg.ManifestChildURLs != nil {
		s.SetManifest(msg.URL, msg.ManifestChildURLs)
	}
	r.mu.Unlock()

	elapsed := time.Since(i.Started).Milliseconds()
	if msg.Response != nil {
		i.resolve(msg.Response)
		r.observe(Event{Kind: EventFetchSettled, ClientID: clientID, URL: msg.URL, DurationMS: elapsed})
		return
	}

	reason := ""
	if msg.Error != nil {
		reason = msg.Error.Message
	}
	i.reject(newError(CodeFetchFailed, reason, nil))
	r.observe(Event{Kind: EventFetchFailed, ClientID: clientID, URL: msg.URL, Error: reason, DurationMS: elapsed})
}

// Intercept decides whether a fetch from clientID for url belongs to a
// tracked stream. When it does, the fetch is registered as pending and the
// page is notified; the returned Interception must be awaited.
func (r *Registry) Intercept(ctx context.Context, clientID, url string) (*Interception, bool) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if !ok || !s.IsURLTracking(url) {
		r.mu.Unlock()
		return nil, false
	}
	i := newInterception(clientID, url)
	replaced, err := s.track(i)
	r.mu.Unlock()

	if err != nil {
		r.fail(i, err)
		return i, true
	}
	if replaced != nil {
		r.fail(replaced, newError(CodeSuperseded, "request superseded by a newer fetch of the same url", nil))
	}

	// The pending entry exists before the page can possibly answer.
	if err := s.port.Post(ctx, protocol.Fetch(url)); err != nil {
		if s.drop(i) {
			r.fail(i, newError(CodePortClosed, "notify page", err))
		}
		slog.Warn("fetch notification failed", "client_id", clientID, "url", url, "error", err)
		return i, true
	}

	slog.Debug("fetch intercepted", "client_id", clientID, "url", url)
	r.observe(Event{Kind: EventFetchIntercepted, ClientID: clientID, URL: url})
	return i, true
}

// Await waits for i to settle. When the fetch timeout elapses first, the
// pending entry is dropped and a FETCH_TIMEOUT error returned; when ctx is
// canceled, FETCH_CANCELED.
func (r *Registry) Await(ctx context.Context, i *Interception) (*protocol.Response, error) {
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
	}

	select {
	case <-i.Done():
		return i.Result()
	case <-ctx.Done():
	}

	r.mu.Lock()
	if s, ok := r.sessions[i.ClientID]; ok {
		s.drop(i)
	}
	r.mu.Unlock()
	if errors.Is(ctx.Err(), context.Canceled) {
		r.fail(i, newError(CodeFetchCanceled, "fetch abandoned by caller: "+i.URL, ctx.Err()))
	} else {
		r.fail(i, newError(CodeFetchTimeout, "fetch not settled: "+i.URL, ctx.Err()))
	}
	return i.Result()
}

// Collect destroys every session whose page is absent from the platform's
// live client list, ready or not. The session for keep is never collected.
func (r *Registry) Collect(ctx context.Context, keep string) error {
	live, err := r.platform.Clients(ctx)
	if err != nil {
		return newError(CodePlatform, "list clients", err)
	}
	alive := make(map[string]struct{}, len(live))
	for _, id := range live {
		alive[id] = struct{}{}
	}

	r.mu.Lock()
	var gone []*Session
	for id, s := range r.sessions {
		if id == keep {
			continue
		}
		if _, ok := alive[id]; ok {
			continue
		}
		delete(r.sessions, id)
		gone = append(gone, s)
	}
	r.mu.Unlock()

	for _, s := range gone {
		r.destroySession(s, newError(CodeDestroyed, "client destroyed", nil), true)
	}
	if len(gone) > 0 {
		slog.Info("reclaimed disconnected clients", "count", len(gone))
	}
	return nil
}

// Release is called when port is closed. The session for clientID is
// destroyed if it still owns that port.
func (r *Registry) Release(clientID string, port Port) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if !ok || s.port != port {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, clientID)
	r.mu.Unlock()

	r.destroySession(s, newError(CodeDestroyed, "client destroyed", nil), false)
}

// Destroy removes the session for clientID.
func (r *Registry) Destroy(clientID string) error {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return newError(CodeNotFound, "no session for client "+clientID, nil)
	}
	r.destroySession(s, newError(CodeDestroyed, "client destroyed", nil), true)
	return nil
}

// Shutdown destroys every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.activated = false
	r.mu.Unlock()

	for _, s := range all {
		r.destroySession(s, newError(CodeDestroyed, "worker shutting down", nil), true)
	}
}

// Session returns a snapshot of one session.
func (r *Registry) Session(clientID string) (SessionInfo, error) {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	r.mu.Unlock()
	if !ok {
		return SessionInfo{}, newError(CodeNotFound, "no session for client "+clientID, nil)
	}
	return s.Info(), nil
}

// Sessions returns snapshots of all sessions ordered by client id.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ClientID < out[b].ClientID })
	return out
}

// Activated reports whether Activate has completed.
func (r *Registry) Activated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activated
}

func (r *Registry) sendReady(ctx context.Context, s *Session) {
	if err := s.port.Post(ctx, protocol.Ready(s.StreamURL, r.version)); err != nil {
		slog.Warn("ready notification failed", "client_id", s.ID, "error", err)
		return
	}
	slog.Info("client ready", "client_id", s.ID, "stream_url", s.StreamURL)
	r.observe(Event{Kind: EventSessionReady, ClientID: s.ID, StreamURL: s.StreamURL})
}

func (r *Registry) destroySession(s *Session, cause error, closePort bool) {
	rejected := s.destroy(cause)
	for _, i := range rejected {
		r.fetchFailed(i, cause)
	}
	if closePort && s.port != nil {
		if err := s.port.Close(); err != nil {
			slog.Debug("port close failed", "client_id", s.ID, "error", err)
		}
	}
	slog.Info("client session destroyed", "client_id", s.ID, "rejected", len(rejected))
	r.observe(Event{Kind: EventSessionDestroyed, ClientID: s.ID, StreamURL: s.StreamURL, Error: cause.Error()})
}

// fail rejects i and reports it if this call settled it.
func (r *Registry) fail(i *Interception, err error) {
	if i.reject(err) {
		r.fetchFailed(i, err)
	}
}

func (r *Registry) fetchFailed(i *Interception, err error) {
	r.observe(Event{
		Kind:       EventFetchFailed,
		ClientID:   i.ClientID,
		URL:        i.URL,
		Error:      err.Error(),
		DurationMS: time.Since(i.Started).Milliseconds(),
	})
}

func (r *Registry) observe(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.observer.Observe(e)
}
