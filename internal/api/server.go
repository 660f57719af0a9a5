package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

// Service is the worker state the admin API exposes.
type Service interface {
	Version() string
	Activated() bool
	Activate(ctx context.Context) error
	Sessions() []worker.SessionInfo
	Session(clientID string) (worker.SessionInfo, error)
	Destroy(clientID string) error
}

// Stats reports transport counters shown by the health endpoint. Any field
// may be left nil.
type Stats struct {
	Connections  func() int
	Subscribers  func() int
	JournalDrops func() int
}

type clientIDInput struct {
	ClientID string `path:"client_id" doc:"Client id of the page"`
}

// NewServer builds the admin API. events, when non-nil, is served at
// /api/v1/events.
func NewServer(svc Service, stats Stats, events http.Handler) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("P2P Media Loader Worker API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if events != nil {
		router.Get("/api/v1/events", events.ServeHTTP)
	}

	registerSessionHandlers(api, svc)
	registerMiscHandlers(api, svc, stats)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *worker.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case worker.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case worker.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case worker.CodeFetchTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case worker.CodePlatform, worker.CodePortClosed:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
