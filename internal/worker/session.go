package worker

import (
	"sort"
	"sync"
	"time"
)

// Session is the worker-side state of one page: the stream it plays, the
// URLs that belong to it and the fetches currently suspended for it.
type Session struct {
	ID        string
	StreamURL string
	CreatedAt time.Time

	port Port

	mu        sync.Mutex
	ready     bool
	destroyed bool
	manifests map[string]map[string]struct{} // manifest URL -> child URLs
	pending   map[string]*Interception       // URL -> suspended fetch
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ClientID    string    `json:"client_id"`
	StreamURL   string    `json:"stream_url"`
	Ready       bool      `json:"ready"`
	Manifests   []string  `json:"manifests"`
	TrackedURLs []string  `json:"tracked_urls"`
	Pending     []string  `json:"pending"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSession creates a session tracking only streamURL.
func NewSession(id, streamURL string, port Port) *Session {
	s := &Session{
		ID:        id,
		StreamURL: streamURL,
		CreatedAt: time.Now(),
		port:      port,
		manifests: make(map[string]map[string]struct{}),
		pending:   make(map[string]*Interception),
	}
	s.manifests[streamURL] = map[string]struct{}{}
	return s
}

// Ready reports whether the worker has confirmed interception for this page.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// markReady flips the ready flag. It returns true only on the first call.
func (s *Session) markReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready || s.destroyed {
		return false
	}
	s.ready = true
	return true
}

// SetManifest records url as a manifest with the given children. When url is
// the stream root, every other manifest not listed in children is forgotten.
func (s *Session) SetManifest(url string, children []string) {
	set := make(map[string]struct{}, len(children))
	for _, c := range children {
		set[c] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[url] = set

	if url != s.StreamURL {
		return
	}
	for m := range s.manifests {
		if m == s.StreamURL {
			continue
		}
		if _, ok := set[m]; !ok {
			delete(s.manifests, m)
		}
	}
}

// IsURLTracking reports whether url is a known manifest or a child of one.
func (s *Session) IsURLTracking(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[url]; ok {
		return true
	}
	for _, children := range s.manifests {
		if _, ok := children[url]; ok {
			return true
		}
	}
	return false
}

// TrackedURLs returns every URL eligible for interception, sorted.
func (s *Session) TrackedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for m, children := range s.manifests {
		seen[m] = struct{}{}
		for c := range children {
			seen[c] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	tracked := s.TrackedURLs()

	s.mu.Lock()
	defer s.mu.Unlock()
	manifests := make(map[string]struct{}, len(s.manifests))
	for m := range s.manifests {
		manifests[m] = struct{}{}
	}
	pending := make(map[string]struct{}, len(s.pending))
	for u := range s.pending {
		pending[u] = struct{}{}
	}
	return SessionInfo{
		ClientID:    s.ID,
		StreamURL:   s.StreamURL,
		Ready:       s.ready,
		Manifests:   sortedKeys(manifests),
		TrackedURLs: tracked,
		Pending:     sortedKeys(pending),
		CreatedAt:   s.CreatedAt,
	}
}

// PendingCount returns the number of suspended fetches.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// track registers i as the pending fetch for its URL and returns the
// interception it replaced, if any. A destroyed session refuses i.
func (s *Session) track(i *Interception) (replaced *Interception, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, newError(CodeDestroyed, "client destroyed", nil)
	}
	replaced = s.pending[i.URL]
	s.pending[i.URL] = i
	return replaced, nil
}

// take removes and returns the pending fetch for url.
func (s *Session) take(url string) *Interception {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.pending[url]
	if !ok {
		return nil
	}
	delete(s.pending, url)
	return i
}

// drop removes i if it is still the pending fetch for its URL.
func (s *Session) drop(i *Interception) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[i.URL] != i {
		return false
	}
	delete(s.pending, i.URL)
	return true
}

// destroy rejects every pending fetch with cause and returns the ones it
// settled. Calling it again is a no-op.
func (s *Session) destroy(cause error) []*Interception {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	pending := s.pending
	s.pending = make(map[string]*Interception)
	s.mu.Unlock()

	var rejected []*Interception
	for _, i := range pending {
		if i.reject(cause) {
			rejected = append(rejected, i)
		}
	}
	return rejected
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
