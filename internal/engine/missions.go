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
)

// MissionInput is the shared mission-creation contract used by escalation and
// by collaborators posting work items.
type MissionInput struct {
	AgentID     string
	Status      string
	Priority    string
	Title       string
	Description string
	AssignedTo  string
	Metadata    domain.Metadata
}

var (
	validMissionStatus = map[string]bool{
		domain.MissionInbox: true, domain.MissionAssigned: true, domain.MissionActive: true,
		domain.MissionReview: true, domain.MissionNeedsHuman: true,
	}
	validPriority = map[string]bool{
		domain.PriorityUrgent: true, domain.PriorityHigh: true, domain.PriorityNormal: true,
	}
)

// SubmitMission authorizes the caller and creates a mission.
func (e Engine) SubmitMission(ctx context.Context, authz AuthContext, in MissionInput) (domain.Mission, error) {
	if err := e.Auth.Authorize(ctx, authz.ActorID, auth.ActionMission); err != nil {
		return domain.Mission{}, err
	}
	if in.AgentID == "" {
		in.AgentID = authz.ActorID
	}
	return e.CreateMission(ctx, authz.ActorID, in)
}

// CreateMission validates and inserts a non-terminal mission.
func (e Engine) CreateMission(ctx context.Context, actorID string, in MissionInput) (domain.Mission, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return domain.Mission{}, errors.New("title is required")
	}
	if in.AgentID == "" {
		return domain.Mission{}, errors.New("agent_id is required")
	}
	if in.Status == "" {
		in.Status = domain.MissionInbox
	}
	if !validMissionStatus[in.Status] {
		return domain.Mission{}, fmt.Errorf("invalid mission status %q", in.Status)
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	if !validPriority[in.Priority] {
		return domain.Mission{}, fmt.Errorf("invalid priority %q", in.Priority)
	}
	ts := e.timestamp()
	m := domain.Mission{
		ID:          uuid.NewString(),
		AgentID:     in.AgentID,
		Status:      in.Status,
		Priority:    in.Priority,
		Title:       in.Title,
		Description: in.Description,
		AssignedTo:  in.AssignedTo,
		Metadata:    in.Metadata,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := e.store().InsertMission(ctx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	payload := events.EventPayload{"agent_id": m.AgentID, "assigned_to": m.AssignedTo, "status": m.Status}
	if m.Metadata.Parent != nil {
		payload["parent_deal_id"] = m.Metadata.Parent.ParentDealID
	}
	e.appendEvent(ctx, "mission.created", "mission", m.ID, actorID, payload)
	return m, nil
}
