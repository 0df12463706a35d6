package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scoutline/internal/domain"
	"scoutline/internal/engine/auth"
	"scoutline/internal/events"
	"scoutline/internal/logger"
	"scoutline/internal/notify"
	"scoutline/internal/repo"
)

// Outcome is the result of a lifecycle command. Conflicts are outcomes, not
// errors.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeAlreadyActioned Outcome = "already_actioned"
	OutcomeNotFound        Outcome = "not_found"
)

// DefaultRejectReason is stored when the operator gives no reason.
const DefaultRejectReason = "Passed by operator"

// ErrMissingReason is returned by RejectStrict when no reason is given.
var ErrMissingReason = errors.New("rejection reason is required")

// TransitionResult carries the outcome plus the deal and, for escalation,
// the review mission that was created.
type TransitionResult struct {
	Outcome Outcome         `json:"outcome" enum:"success,already_actioned,not_found"`
	Deal    *domain.Deal    `json:"deal,omitempty"`
	Mission *domain.Mission `json:"mission,omitempty"`
}

type EscalateOptions struct {
	// Dedupe refuses a second open escalation for the same deal.
	Dedupe bool
	Note   string
}

// Approve moves a pending deal to approved and closes its mission.
func (e Engine) Approve(ctx context.Context, authz AuthContext, dealID string) (TransitionResult, error) {
	return e.decide(ctx, authz, dealID, auth.ActionApprove, domain.DealApproved, nil)
}

// Reject moves a pending deal to rejected. An empty reason falls back to
// DefaultRejectReason.
func (e Engine) Reject(ctx context.Context, authz AuthContext, dealID, reason string) (TransitionResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectReason
	}
	return e.decide(ctx, authz, dealID, auth.ActionReject, domain.DealRejected, &reason)
}

// RejectStrict is Reject without the default reason.
func (e Engine) RejectStrict(ctx context.Context, authz AuthContext, dealID, reason string) (TransitionResult, error) {
	if strings.TrimSpace(reason) == "" {
		return TransitionResult{}, ErrMissingReason
	}
	return e.Reject(ctx, authz, dealID, reason)
}

func (e Engine) decide(ctx context.Context, authz AuthContext, dealID, action, status string, reason *string) (TransitionResult, error) {
	if err := e.Auth.Authorize(ctx, authz.ActorID, action); err != nil {
		return TransitionResult{}, err
	}
	verb := strings.TrimPrefix(action, "deal.")
	log := e.log().WithFields(logger.Fields{
		logger.FieldDealID:  dealID,
		logger.FieldActorID: authz.ActorID,
		logger.FieldSource:  authz.Source,
		"action":            verb,
	})
	ts := e.timestamp()

	ok, err := e.Repo.TransitionDeal(ctx, dealID, repo.DealTransition{Status: status, RejectionReason: reason, At: ts})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("%s deal %s: %w", verb, dealID, err)
	}
	deal, err := e.Repo.GetDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.Transition(verb, string(OutcomeNotFound))
			return TransitionResult{Outcome: OutcomeNotFound}, nil
		}
		return TransitionResult{}, err
	}
	if !ok {
		log.WithField(logger.FieldStatus, deal.Status).Info("deal already actioned")
		e.Metrics.Transition(verb, string(OutcomeAlreadyActioned))
		return TransitionResult{Outcome: OutcomeAlreadyActioned, Deal: &deal}, nil
	}

	// The deal decision is authoritative. A failed mission update leaves the
	// pair inconsistent and is only logged.
	mission, merr := e.Repo.GetMission(ctx, deal.MissionID)
	if merr == nil {
		upd := repo.MissionUpdate{Status: domain.MissionDone, CompletedAt: &ts, UpdatedAt: ts}
		if reason != nil {
			upd.Status = domain.MissionRejected
			meta := mission.Metadata.Merge(domain.Metadata{Rejection: &domain.Rejection{Reason: *reason}})
			upd.Metadata = &meta
		}
		merr = e.Repo.UpdateMission(ctx, mission.ID, upd)
		if merr == nil {
			mission.Status = upd.Status
			mission.CompletedAt = &ts
			mission.UpdatedAt = ts
			if upd.Metadata != nil {
				mission.Metadata = *upd.Metadata
			}
		}
	}
	if merr != nil {
		log.WithError(merr).WithField(logger.FieldMissionID, deal.MissionID).Warn("mission update after decision failed")
	}

	details := map[string]any{"title": deal.Title, "roi_percent": deal.ROIPercent}
	if reason != nil {
		details["reason"] = *reason
	}
	e.record(ctx, log, domain.AuditEntry{
		ID:          uuid.NewString(),
		DealID:      deal.ID,
		MissionID:   deal.MissionID,
		Action:      verb,
		Source:      authz.Source,
		PerformedBy: authz.ActorID,
		Details:     details,
		CreatedAt:   ts,
	})
	activity := "mission_approved"
	if reason != nil {
		activity = "mission_rejected"
	}
	e.activity(ctx, log, e.scoutAgent(), activity, fmt.Sprintf("%s by %s via %s", deal.Title, authz.ActorID, authz.Source), domain.SeverityInfo)
	payload := events.EventPayload{"mission_id": deal.MissionID, "source": authz.Source}
	if reason != nil {
		payload["reason"] = *reason
	}
	e.appendEvent(ctx, "deal."+status, "deal", deal.ID, authz.ActorID, payload)

	text := fmt.Sprintf("✅ Approved: %s", deal.Title)
	if reason != nil {
		text = fmt.Sprintf("❌ Passed: %s\nReason: %s", deal.Title, *reason)
	}
	e.notify(ctx, notify.Message{Text: text, MissionID: deal.MissionID, Priority: domain.PriorityNormal})

	e.Metrics.Transition(verb, string(OutcomeSuccess))
	log.Info("deal decided")
	res := TransitionResult{Outcome: OutcomeSuccess, Deal: &deal}
	if merr == nil {
		res.Mission = &mission
	}
	return res, nil
}

// Escalate asks the reviewer agent for advice. The original pair is left
// untouched; a new mission linked back to the deal is created.
func (e Engine) Escalate(ctx context.Context, authz AuthContext, dealID string, opts EscalateOptions) (TransitionResult, error) {
	if err := e.Auth.Authorize(ctx, authz.ActorID, auth.ActionEscalate); err != nil {
		return TransitionResult{}, err
	}
	log := e.log().WithFields(logger.Fields{
		logger.FieldDealID:  dealID,
		logger.FieldActorID: authz.ActorID,
		logger.FieldSource:  authz.Source,
		"action":            "escalate",
	})
	deal, err := e.Repo.GetDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.Metrics.Transition("escalate", string(OutcomeNotFound))
			return TransitionResult{Outcome: OutcomeNotFound}, nil
		}
		return TransitionResult{}, err
	}
	if opts.Dedupe {
		open, err := e.Repo.OpenEscalationExists(ctx, deal.ID)
		if err != nil {
			return TransitionResult{}, fmt.Errorf("check open escalation: %w", err)
		}
		if open {
			e.Metrics.Transition("escalate", string(OutcomeAlreadyActioned))
			return TransitionResult{Outcome: OutcomeAlreadyActioned, Deal: &deal}, nil
		}
	}

	desc := fmt.Sprintf("Operator wants your analysis. Price: $%.2f, Value: $%.2f, ROI: %.1f%%. URL: %s",
		deal.Price, deal.EstimatedValue, deal.ROIPercent, deal.ItemURL)
	if note := strings.TrimSpace(opts.Note); note != "" {
		desc += "\nNote: " + note
	}
	mission, err := e.CreateMission(ctx, authz.ActorID, MissionInput{
		AgentID:     e.reviewer(),
		Status:      domain.MissionAssigned,
		Priority:    domain.PriorityNormal,
		Title:       "Review & Advise: " + truncate(deal.Title, 60),
		Description: desc,
		AssignedTo:  e.reviewer(),
		Metadata: domain.Metadata{Parent: &domain.ParentLink{
			ParentDealID:    deal.ID,
			ParentMissionID: deal.MissionID,
			ReviewType:      "operator_escalation",
		}},
	})
	if err != nil {
		return TransitionResult{}, fmt.Errorf("escalate deal %s: %w", deal.ID, err)
	}

	e.record(ctx, log, domain.AuditEntry{
		ID:          uuid.NewString(),
		DealID:      deal.ID,
		MissionID:   deal.MissionID,
		Action:      "escalate",
		Source:      authz.Source,
		PerformedBy: authz.ActorID,
		Details:     map[string]any{"review_mission_id": mission.ID, "reviewer": mission.AgentID},
		CreatedAt:   mission.CreatedAt,
	})
	e.activity(ctx, log, mission.AgentID, "review_requested", deal.Title, domain.SeverityInfo)
	e.appendEvent(ctx, "deal.escalated", "deal", deal.ID, authz.ActorID, events.EventPayload{
		"mission_id":        deal.MissionID,
		"review_mission_id": mission.ID,
		"source":            authz.Source,
	})
	e.notify(ctx, notify.Message{
		Text:      fmt.Sprintf("💬 Asked %s to review: %s", mission.AgentID, deal.Title),
		MissionID: mission.ID,
		Priority:  domain.PriorityNormal,
	})
	e.Metrics.Transition("escalate", string(OutcomeSuccess))
	log.WithField("review_mission_id", mission.ID).Info("deal escalated")
	return TransitionResult{Outcome: OutcomeSuccess, Deal: &deal, Mission: &mission}, nil
}

func (e Engine) record(ctx context.Context, log *logger.Logger, a domain.AuditEntry) {
	if err := e.Repo.InsertAudit(ctx, a); err != nil {
		log.WithError(err).Warn("audit append failed")
	}
}

func (e Engine) activity(ctx context.Context, log *logger.Logger, agentID, action, details, severity string) {
	err := e.Repo.InsertActivity(ctx, domain.AgentActivity{
		AgentID:   agentID,
		Action:    action,
		Details:   details,
		Severity:  severity,
		CreatedAt: e.timestamp(),
	})
	if err != nil {
		log.WithError(err).Warn("activity append failed")
	}
}
