package relay

import "github.com/dgnsrekt/p2pml_bridge/internal/worker"

// Observer publishes registry events to the broker, one feed per concern.
type Observer struct {
	broker *Broker
}

// NewObserver wraps broker as a worker.Observer.
func NewObserver(broker *Broker) *Observer {
	return &Observer{broker: broker}
}

// Observe implements worker.Observer.
func (o *Observer) Observe(e worker.Event) {
	o.broker.PublishJSON(feedFor(e.Kind), e)
}

func feedFor(kind string) string {
	switch kind {
	case worker.EventFetchIntercepted:
		return FeedFetch
	case worker.EventFetchSettled, worker.EventFetchFailed:
		return FeedSettle
	default:
		return FeedSession
	}
}
