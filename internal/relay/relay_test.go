package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe(FeedFetch)

	b.Publish(Event{Feed: FeedFetch, Payload: "x"})

	for _, ch := range []<-chan Event{sub1.Events, sub2.Events} {
		select {
		case evt := <-ch:
			if evt.Feed != FeedFetch || evt.ID != 1 {
				t.Fatalf("event = %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
	}

	b.Unsubscribe(sub1)
	b.Unsubscribe(sub1)
	if _, ok := <-sub1.Events; ok {
		t.Fatal("unsubscribed channel should be closed")
	}
	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d; want 1", got)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	b.Subscribe()
	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish(Event{Feed: FeedSession})
	}
	if got := b.Dropped(); got != 5 {
		t.Fatalf("Dropped() = %d; want 5", got)
	}
}

func TestBrokerSkipsUnwantedFeeds(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(FeedSettle)
	for i := 0; i < subscriberBufSize+5; i++ {
		b.Publish(Event{Feed: FeedFetch})
	}
	b.Publish(Event{Feed: FeedSettle, Payload: "done"})

	if got := b.Dropped(); got != 0 {
		t.Fatalf("Dropped() = %d; want 0", got)
	}
	select {
	case evt := <-sub.Events:
		if evt.Payload != "done" || evt.ID != subscriberBufSize+6 {
			t.Fatalf("event = %+v", evt)
		}
	default:
		t.Fatal("settle event not queued")
	}
}

func TestSplitFeeds(t *testing.T) {
	if got := splitFeeds(""); got != nil {
		t.Fatalf("splitFeeds(\"\") = %v; want nil", got)
	}
	got := splitFeeds(" fetch, ,settle")
	if strings.Join(got, "|") != "fetch|settle" {
		t.Fatalf("splitFeeds() = %v", got)
	}
}

func TestObserverFeeds(t *testing.T) {
	tests := map[string]string{
		worker.EventSessionCreated:   FeedSession,
		worker.EventSessionDestroyed: FeedSession,
		worker.EventFetchIntercepted: FeedFetch,
		worker.EventFetchSettled:     FeedSettle,
		worker.EventFetchFailed:      FeedSettle,
	}
	for kind, want := range tests {
		if got := feedFor(kind); got != want {
			t.Errorf("feedFor(%q) = %q; want %q", kind, got, want)
		}
	}
}

func TestSSEHandlerFiltersFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=fetch", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	obs := NewObserver(b)
	obs.Observe(worker.Event{Kind: worker.EventSessionCreated, ClientID: "c1"})
	obs.Observe(worker.Event{Kind: worker.EventFetchIntercepted, ClientID: "c1", URL: "http://x/s1.ts"})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	got := strings.Join(lines, "\n")
	if !strings.Contains(got, "event: fetch") || !strings.Contains(got, `"url":"http://x/s1.ts"`) {
		t.Fatalf("unexpected SSE frame %q", got)
	}
	if strings.Contains(got, "session_created") {
		t.Fatalf("filtered feed leaked: %q", got)
	}
}
