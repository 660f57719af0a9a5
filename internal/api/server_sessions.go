package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

func registerSessionHandlers(api huma.API, svc Service) {
	type sessionListOutput struct {
		Body struct {
			Sessions []worker.SessionInfo `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List client sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*sessionListOutput, error) {
			out := &sessionListOutput{}
			out.Body.Sessions = svc.Sessions()
			return out, nil
		})

	type sessionOutput struct {
		Body worker.SessionInfo
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/sessions/{client_id}", Summary: "Get one client session with its tracked URLs", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *clientIDInput) (*sessionOutput, error) {
			info, err := svc.Session(input.ClientID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body = info
			return out, nil
		})

	type destroyOutput struct {
		Body struct {
			ClientID string `json:"client_id"`
			Status   string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "destroy-session", Method: http.MethodDelete, Path: "/api/v1/sessions/{client_id}", Summary: "Destroy a client session, rejecting its pending fetches", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *clientIDInput) (*destroyOutput, error) {
			if err := svc.Destroy(input.ClientID); err != nil {
				return nil, mapErr(err)
			}
			out := &destroyOutput{}
			out.Body.ClientID = input.ClientID
			out.Body.Status = "destroyed"
			return out, nil
		})

	type activateOutput struct {
		Body struct {
			Activated bool `json:"activated"`
			Sessions  int  `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "activate", Method: http.MethodPost, Path: "/api/v1/activate", Summary: "Claim live clients and announce readiness", Tags: []string{"Worker"}},
		func(ctx context.Context, input *struct{}) (*activateOutput, error) {
			if err := svc.Activate(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &activateOutput{}
			out.Body.Activated = svc.Activated()
			out.Body.Sessions = len(svc.Sessions())
			return out, nil
		})
}
