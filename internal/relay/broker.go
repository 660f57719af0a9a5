package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feeds published by the bridge.
const (
	FeedSession = "session"
	FeedFetch   = "fetch"
	FeedSettle  = "settle"
)

// Event is one SSE message. ID is assigned by the broker and increases
// across all feeds.
type Event struct {
	ID      int64
	Feed    string
	Payload string
}

// Subscription is one listener's queue. Events outside its feeds never
// reach the queue.
type Subscription struct {
	ID     int64
	Events <-chan Event

	ch    chan Event
	feeds map[string]bool // nil means every feed
}

func (s *Subscription) wants(feed string) bool {
	return s.feeds == nil || s.feeds[feed]
}

// Broker delivers bridge events to SSE listeners. Publishing never waits on
// a listener: a full queue loses the event and bumps the drop counter.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	lastID atomic.Int64
	seq    atomic.Int64
	drops  atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]*Subscription)}
}

// Subscribe opens a queue for the given feeds, or for every feed when none
// are named.
func (b *Broker) Subscribe(feeds ...string) *Subscription {
	var filter map[string]bool
	for _, f := range feeds {
		if filter == nil {
			filter = make(map[string]bool, len(feeds))
		}
		filter[f] = true
	}
	ch := make(chan Event, subscriberBufSize)
	sub := &Subscription{ID: b.lastID.Add(1), Events: ch, ch: ch, feeds: filter}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe drops sub and closes its queue. Unknown ids are ignored.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID]; !ok {
		return
	}
	delete(b.subs, sub.ID)
	close(sub.ch)
}

// Publish numbers evt and queues it for every interested subscription.
func (b *Broker) Publish(evt Event) {
	evt.ID = b.seq.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(evt.Feed) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.drops.Add(1)
		}
	}
}

// PublishJSON publishes v, encoded as JSON, on feed.
func (b *Broker) PublishJSON(feed string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("relay payload marshal failed", "feed", feed, "error", err)
		return
	}
	b.Publish(Event{Feed: feed, Payload: string(data)})
}

// ClientCount reports the open subscriptions.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) Dropped() int64 {
	return b.drops.Load()
}
