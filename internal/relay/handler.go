package relay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const keepAliveInterval = 20 * time.Second

// SSEHandler serves the event stream. ?feeds=session,fetch narrows it to the
// named feeds; without it every feed is sent.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		sub := broker.Subscribe(splitFeeds(r.URL.Query().Get("feeds"))...)
		defer broker.Unsubscribe(sub)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				if err := writeFrame(w, evt); err != nil {
					return
				}
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, evt Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Feed, evt.Payload)
	return err
}

func splitFeeds(q string) []string {
	var feeds []string
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			feeds = append(feeds, f)
		}
	}
	return feeds
}
