// Package notify delivers operator alerts. Delivery is best-effort: callers
// log failures and carry on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scoutline/internal/domain"
	"scoutline/internal/logger"
	"scoutline/internal/metrics"
)

// Operator actions offered alongside a deal alert.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionEscalate = "escalate"
)

// DealActions is the action set attached to every new-deal alert.
var DealActions = []string{ActionApprove, ActionReject, ActionEscalate}

type Message struct {
	Text      string
	Actions   []string
	MissionID string
	Priority  string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Logging writes messages to the structured log. It never fails.
type Logging struct {
	Log *logger.Logger
}

func (l Logging) Notify(_ context.Context, msg Message) error {
	log := l.Log
	if log == nil {
		log = logger.Nop()
	}
	log.WithFields(logger.Fields{
		logger.FieldMissionID: msg.MissionID,
		"priority":            msg.Priority,
		"actions":             msg.Actions,
	}).Info(msg.Text)
	return nil
}

// Multi fans a message out to every notifier. A failing notifier is logged
// and does not stop the others; the joined error is returned.
type Multi struct {
	Notifiers []Notifier
	Log       *logger.Logger
}

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			if m.Log != nil {
				m.Log.WithError(err).WithField(logger.FieldMissionID, msg.MissionID).Warn("notification delivery failed")
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotificationStore persists delivery rows.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
}

// Recording wraps a notifier and stores one notification row per delivery,
// marked sent or failed.
type Recording struct {
	Next    Notifier
	Store   NotificationStore
	Metrics *metrics.Metrics
	Channel string
	Now     func() time.Time
}

func (r Recording) Notify(ctx context.Context, msg Message) error {
	sendErr := r.Next.Notify(ctx, msg)
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	row := domain.Notification{
		ID:        uuid.NewString(),
		MissionID: msg.MissionID,
		Message:   msg.Text,
		Priority:  msg.Priority,
		Actions:   msg.Actions,
		Status:    "sent",
		CreatedAt: now().UTC().Format(time.RFC3339),
	}
	if row.Priority == "" {
		row.Priority = domain.PriorityNormal
	}
	if sendErr != nil {
		row.Status = "failed"
		row.Error = sendErr.Error()
	}
	channel := r.Channel
	if channel == "" {
		channel = "default"
	}
	r.Metrics.Notification(channel, row.Status)
	if err := r.Store.InsertNotification(ctx, row); err != nil {
		if sendErr != nil {
			return errors.Join(sendErr, fmt.Errorf("record notification: %w", err))
		}
		return fmt.Errorf("record notification: %w", err)
	}
	return sendErr
}
