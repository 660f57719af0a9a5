package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerMiscHandlers(api huma.API, svc Service, stats Stats) {
	type healthOutput struct {
		Body struct {
			Status      string `json:"status"`
			Version     string `json:"version"`
			Activated   bool   `json:"activated"`
			Sessions    int    `json:"sessions"`
			Connections int    `json:"connections"`
			Subscribers int    `json:"subscribers"`
			JournalDrop int    `json:"journal_dropped"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Version = svc.Version()
			out.Body.Activated = svc.Activated()
			out.Body.Sessions = len(svc.Sessions())
			out.Body.Connections = count(stats.Connections)
			out.Body.Subscribers = count(stats.Subscribers)
			out.Body.JournalDrop = count(stats.JournalDrops)
			return out, nil
		})
}

func count(f func() int) int {
	if f == nil {
		return 0
	}
	return f()
}
