package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/dgnsrekt/p2pml_bridge/internal/protocol"
	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

// Dispatcher consumes page messages arriving on worker-side ports.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID string, msg protocol.Message, port worker.Port) error
	Release(clientID string, port worker.Port)
}

// Hub accepts page channels and doubles as the worker platform: the live
// clients are the ids that currently hold an open channel.
type Hub struct {
	mu   sync.Mutex
	live map[string]int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{live: make(map[string]int)}
}

// Clients returns the ids of pages with an open channel.
func (h *Hub) Clients(context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.live))
	for id := range h.live {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Claim is a no-op: a page is controlled from the moment its channel opens.
func (h *Hub) Claim(context.Context) error {
	return nil
}

// ConnectionCount returns the number of open channels.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.live {
		n += c
	}
	return n
}

func (h *Hub) add(id string) {
	h.mu.Lock()
	h.live[id]++
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live[id] <= 1 {
		delete(h.live, id)
		return
	}
	h.live[id]--
}

// Handler upgrades page requests to channels. The first message on a
// channel must be init; its client id (generated when absent) is bound to
// the channel for every later message.
func (h *Hub) Handler(d Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("port upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn := newConn(raw, ws.StateServerSide)
		defer func() { _ = conn.Close() }()

		first, err := conn.Receive()
		if err != nil {
			slog.Debug("port closed before init", "remote", r.RemoteAddr, "error", err)
			return
		}
		if first.Type != protocol.TypeInit {
			slog.Warn("port opened without init", "remote", r.RemoteAddr, "type", first.Type)
			return
		}

		clientID := first.ClientID
		if clientID == "" {
			clientID = uuid.New().String()
		}
		h.add(clientID)
		defer h.remove(clientID)
		defer d.Release(clientID, conn)

		ctx := context.Background()
		slog.Debug("port opened", "client_id", clientID, "remote", r.RemoteAddr)
		msg := first
		for {
			msg.ClientID = clientID
			if err := d.Dispatch(ctx, clientID, msg, conn); err != nil {
				slog.Warn("page message rejected", "client_id", clientID, "type", msg.Type, "error", err)
			}

			for {
				msg, err = conn.Receive()
				if err == nil {
					break
				}
				if errors.Is(err, ErrMalformed) {
					slog.Warn("malformed page message dropped", "client_id", clientID, "error", err)
					continue
				}
				if isClosed(err) {
					slog.Debug("port closed", "client_id", clientID)
				} else {
					slog.Warn("port read failed", "client_id", clientID, "error", err)
				}
				return
			}
		}
	})
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
