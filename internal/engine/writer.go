package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"scoutline/internal/domain"
	"scoutline/internal/events"
	"scoutline/internal/logger"
)

// DealStore is what the paired writer needs from storage. There is no
// transaction; DeleteMission compensates a failed deal insert and must be
// idempotent.
type DealStore interface {
	InsertMission(ctx context.Context, m domain.Mission) error
	InsertDeal(ctx context.Context, d domain.Deal) error
	DeleteMission(ctx context.Context, id string) error
}

// ErrDuplicateDeal reports that a deal for the same listing URL exists.
var ErrDuplicateDeal = errors.New("duplicate deal")

// ErrRollbackFailed reports that a failed deal insert left its mission behind.
var ErrRollbackFailed = errors.New("mission rollback failed")

// RollbackError names the orphan mission a failed compensation left behind.
// It matches ErrRollbackFailed and the underlying delete error.
type RollbackError struct {
	MissionID string
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback mission %s: %v", e.MissionID, e.Err)
}

func (e *RollbackError) Unwrap() []error { return []error{ErrRollbackFailed, e.Err} }

// DealCreateOptions carries an accepted listing and the figures it passed on.
type DealCreateOptions struct {
	Listing        domain.Listing
	Platform       string
	Model          string
	ItemType       string
	EstimatedValue decimal.Decimal
	ROI            decimal.Decimal
	Profit         decimal.Decimal
}

type DealCreated struct {
	Mission domain.Mission
	Deal    domain.Deal
}

// Priority ranks a deal by ROI percent and hours until the listing ends.
func Priority(roi, hoursLeft float64) string {
	switch {
	case roi > 200 && hoursLeft < 2:
		return domain.PriorityUrgent
	case roi > 150 || hoursLeft < 6:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

// CreateDeal writes the mission, then the deal. If the deal insert fails the
// mission is deleted again and the insert error is returned. When that delete
// fails too, the returned error also carries a *RollbackError.
func (e Engine) CreateDeal(ctx context.Context, opts DealCreateOptions) (DealCreated, error) {
	l := opts.Listing
	if strings.TrimSpace(l.Title) == "" {
		return DealCreated{}, errors.New("title is required")
	}
	if opts.Platform == "" {
		opts.Platform = "eBay"
	}
	now := e.now().UTC()
	ts := now.Format("2006-01-02T15:04:05Z07:00")
	roi := opts.ROI.Round(1)
	priority := Priority(opts.ROI.InexactFloat64(), l.HoursLeft(now))

	seller := l.SellerName
	if seller == "" {
		seller = "Unknown seller"
	}
	mission := domain.Mission{
		ID:          uuid.NewString(),
		AgentID:     e.scoutAgent(),
		Status:      domain.MissionInbox,
		Priority:    priority,
		Title:       fmt.Sprintf("%s - $%s", truncate(l.Title, 80), l.Price.StringFixed(2)),
		Description: fmt.Sprintf("ROI: %s%% | Profit: $%s | %s", roi.String(), opts.Profit.StringFixed(2), seller),
		AssignedTo:  e.operator(),
		Metadata: domain.Metadata{ROI: &domain.ROISnapshot{
			ROI:            roi.InexactFloat64(),
			Profit:         opts.Profit.Round(2).InexactFloat64(),
			EstimatedValue: opts.EstimatedValue.Round(2).InexactFloat64(),
		}},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	deal := domain.Deal{
		ID:             uuid.NewString(),
		MissionID:      mission.ID,
		Platform:       opts.Platform,
		ItemURL:        l.URL,
		Title:          l.Title,
		Price:          l.Price.Round(2).InexactFloat64(),
		ShippingCost:   l.ShippingCost.Round(2).InexactFloat64(),
		EstimatedValue: opts.EstimatedValue.Round(2).InexactFloat64(),
		ROIPercent:     roi.InexactFloat64(),
		ItemType:       opts.ItemType,
		Model:          opts.Model,
		Condition:      l.Condition,
		Location:       firstNonEmpty(l.PostalCode, l.City, l.Country),
		IsLocalPickup:  l.LocalPickup,
		SellerName:     l.SellerName,
		Status:         domain.DealPending,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	if deal.Condition == "" {
		deal.Condition = "Used"
	}
	if l.LocalPickup {
		deal.DistanceMiles = l.DistanceMiles
	}
	if l.SellerRating > 0 || l.SellerFeedbackCount > 0 {
		rating, count := l.SellerRating, l.SellerFeedbackCount
		deal.SellerRating = &rating
		deal.SellerFeedbackCount = &count
	}
	if l.EndsAt != nil {
		ends := l.EndsAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		deal.AuctionEndsAt = &ends
	}

	log := e.log().WithFields(logger.Fields{logger.FieldMissionID: mission.ID, logger.FieldDealID: deal.ID, logger.FieldURL: l.URL})
	store := e.store()
	if err := store.InsertMission(ctx, mission); err != nil {
		return DealCreated{}, fmt.Errorf("insert mission: %w", err)
	}
	if err := store.InsertDeal(ctx, deal); err != nil {
		insertErr := fmt.Errorf("insert deal: %w", err)
		if isDuplicateURL(err) {
			insertErr = fmt.Errorf("insert deal: %w (%w)", ErrDuplicateDeal, err)
		}
		if rbErr := store.DeleteMission(ctx, mission.ID); rbErr != nil {
			log.WithError(rbErr).Error("rollback of orphan mission failed")
			return DealCreated{}, errors.Join(insertErr, &RollbackError{MissionID: mission.ID, Err: rbErr})
		}
		log.WithError(err).Warn("deal insert failed; mission rolled back")
		return DealCreated{}, insertErr
	}
	deal.Derive()

	e.appendEvent(ctx, "deal.created", "deal", deal.ID, mission.AgentID, events.EventPayload{
		"mission_id": mission.ID,
		"priority":   priority,
		"roi":        deal.ROIPercent,
		"item_url":   deal.ItemURL,
	})
	log.WithField("priority", priority).Info("deal created")
	return DealCreated{Mission: mission, Deal: deal}, nil
}

func isDuplicateURL(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "item_url")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
