package server

import (
	"encoding/json"

	"scoutline/internal/domain"
	"scoutline/internal/engine"
)

// Request payloads

type RejectRequest struct {
	Reason string `json:"reason,omitempty" maxLength:"500"`
}

type EscalateRequest struct {
	Dedupe bool   `json:"dedupe,omitempty"`
	Note   string `json:"note,omitempty" maxLength:"1000"`
}

type CreateMissionRequest struct {
	AgentID     string         `json:"agent_id,omitempty"`
	Status      string         `json:"status,omitempty" enum:"inbox,assigned,active,review,needs_shuki"`
	Priority    string         `json:"priority,omitempty" enum:"urgent,high,normal"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Response payloads

type MissionResponse struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Status      string         `json:"status" enum:"inbox,assigned,active,review,needs_shuki,done,rejected"`
	Priority    string         `json:"priority" enum:"urgent,high,normal"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
	CompletedAt *string        `json:"completed_at,omitempty" format:"date-time"`
}

// TransitionResponse is the body of approve, reject and escalate.
type TransitionResponse struct {
	Outcome string           `json:"outcome" enum:"success,already_actioned,not_found"`
	Deal    *domain.Deal     `json:"deal,omitempty"`
	Mission *MissionResponse `json:"mission,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// CronResponse mirrors the run summary in the shape schedulers expect.
type CronResponse struct {
	Success   bool   `json:"success"`
	RunID     string `json:"run_id"`
	Queries   int    `json:"queries"`
	Approved  int    `json:"approved"`
	Passed    int    `json:"passed"`
	Tracked   int    `json:"tracked"`
	Errors    int    `json:"errors"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type paginatedDeals struct {
	Items      []domain.DealView `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedMissions struct {
	Items      []MissionResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func missionResponse(m domain.Mission) MissionResponse {
	return MissionResponse{
		ID:          m.ID,
		AgentID:     m.AgentID,
		Status:      m.Status,
		Priority:    m.Priority,
		Title:       m.Title,
		Description: m.Description,
		AssignedTo:  m.AssignedTo,
		Metadata:    m.Metadata.Map(),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		CompletedAt: m.CompletedAt,
	}
}

func mapMissions(in []domain.Mission) []MissionResponse {
	out := make([]MissionResponse, 0, len(in))
	for _, m := range in {
		out = append(out, missionResponse(m))
	}
	return out
}

func transitionResponse(res engine.TransitionResult) TransitionResponse {
	out := TransitionResponse{Outcome: string(res.Outcome), Deal: res.Deal}
	if res.Mission != nil {
		m := missionResponse(*res.Mission)
		out.Mission = &m
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
