package auth

import (
	"context"
	"fmt"
	"strings"
)

// Actions checked by Authorize.
const (
	ActionApprove  = "deal.approve"
	ActionReject   = "deal.reject"
	ActionEscalate = "deal.escalate"
	ActionMission  = "mission.create"
)

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e ForbiddenError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("%s requires an identified operator", e.Action)
	}
	return fmt.Sprintf("actor %s may not %s", e.ActorID, e.Action)
}

// OperatorStore answers whether an actor is a registered operator.
type OperatorStore interface {
	IsOperator(ctx context.Context, actorID string) (bool, error)
}

// Service authorizes lifecycle commands. Operators come from config and from
// the operators table; agents listed in Agents may only create missions.
type Service struct {
	Operators []string
	Agents    []string
	Store     OperatorStore
}

// Authorize returns ForbiddenError unless actorID may perform action.
func (s Service) Authorize(ctx context.Context, actorID, action string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ForbiddenError{Action: action}
	}
	if action == ActionMission && contains(s.Agents, actorID) {
		return nil
	}
	if contains(s.Operators, actorID) {
		return nil
	}
	if s.Store != nil {
		ok, err := s.Store.IsOperator(ctx, actorID)
		if err != nil {
			return fmt.Errorf("check operator %s: %w", actorID, err)
		}
		if ok {
			return nil
		}
	}
	return ForbiddenError{ActorID: actorID, Action: action}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
