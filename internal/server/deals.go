package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"scoutline/internal/domain"
	"scoutline/internal/engine"
	"scoutline/internal/repo"
)

type dealPath struct {
	DealID string `path:"deal_id"`
	Source string `header:"X-Scoutline-Source" doc:"Front-end issuing the command (telegram, dashboard)."`
}

type transitionOutput struct {
	Status int
	Body   TransitionResponse `json:"body"`
}

// transitionStatus maps lifecycle outcomes onto HTTP: a lost race is a 409 and
// an unknown deal a 404, both with the outcome body.
func transitionStatus(o engine.Outcome) int {
	switch o {
	case engine.OutcomeAlreadyActioned:
		return http.StatusConflict
	case engine.OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}

func transitionOut(res engine.TransitionResult) *transitionOutput {
	return &transitionOutput{Status: transitionStatus(res.Outcome), Body: transitionResponse(res)}
}

func registerDeals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deals",
		Method:      http.MethodGet,
		Path:        "/deals",
		Summary:     "List deals",
		Description: "Newest first. Rejected deals are hidden unless include_rejected or status=rejected is given.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status" enum:"pending,approved,purchased,rejected"`
		IncludeRejected bool   `query:"include_rejected"`
		Limit           int    `query:"limit" default:"100"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedDeals `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.ListDeals(ctx, repo.DealFilters{
			Status:          input.Status,
			IncludeRejected: input.IncludeRejected,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		return &struct {
			Body paginatedDeals `json:"body"`
		}{Body: paginatedDeals{Items: nonNilSlice(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deal",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}",
		Summary:     "Get deal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *dealPath) (*struct {
		Body domain.DealView `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.Repo.GetDealView(ctx, input.DealID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DealView `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/approve",
		Summary:     "Approve a pending deal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *dealPath) (*transitionOutput, error) {
		authz, authErr := authContext(ctx, input.Source)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Approve(ctx, authz, input.DealID)
		if err != nil {
			return nil, handleError(err)
		}
		return transitionOut(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/reject",
		Summary:     "Reject a pending deal",
		Description: "A blank reason is stored as the default unless strict=true, which refuses it.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		dealPath
		Strict bool          `query:"strict"`
		Body   RejectRequest `json:"body,omitempty" required:"false"`
	}) (*transitionOutput, error) {
		authz, authErr := authContext(ctx, input.Source)
		if authErr != nil {
			return nil, authErr
		}
		reject := e.Reject
		if input.Strict {
			reject = e.RejectStrict
		}
		res, err := reject(ctx, authz, input.DealID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return transitionOut(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/escalate",
		Summary:     "Ask the reviewer agent for an opinion",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		dealPath
		Body EscalateRequest `json:"body,omitempty" required:"false"`
	}) (*transitionOutput, error) {
		authz, authErr := authContext(ctx, input.Source)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Escalate(ctx, authz, input.DealID, engine.EscalateOptions{
			Dedupe: input.Body.Dedupe,
			Note:   input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return transitionOut(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deal-audit",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}/audit",
		Summary:     "Operator decisions recorded for a deal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID string `path:"deal_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetDeal(ctx, input.DealID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAudit(ctx, input.DealID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}
