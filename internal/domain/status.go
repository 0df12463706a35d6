package domain

import (
	"github.com/shopspring/decimal"

	"scoutline/internal/fees"
)

// Display statuses shared by every front-end. They are derived, never stored.
const (
	DisplayInbox      = "inbox"
	DisplayReview     = "review"
	DisplayNeedsHuman = "needs_human"
	DisplayDone       = "done"
)

// DisplayStatus folds a deal and mission status into one consumer-facing state.
// A decided deal always wins over whatever the mission says.
func DisplayStatus(dealStatus, missionStatus string) string {
	switch dealStatus {
	case DealApproved, DealPurchased, DealRejected:
		return DisplayDone
	}
	switch missionStatus {
	case MissionInbox, MissionAssigned:
		return DisplayInbox
	case MissionActive, MissionReview:
		return DisplayReview
	case MissionNeedsHuman:
		return DisplayNeedsHuman
	case MissionDone, MissionRejected:
		return DisplayDone
	default:
		return DisplayInbox
	}
}

func IsTerminalMission(status string) bool {
	return status == MissionDone || status == MissionRejected
}

func IsTerminalDeal(status string) bool {
	switch status {
	case DealApproved, DealPurchased, DealRejected:
		return true
	}
	return false
}

// Derive fills the computed money fields. TotalCost and Profit use price,
// shipping and estimated value only, the same basis as ROIPercent; pickup
// economics are reported beside them in PickupCost and ProfitAfterPickup.
func (d *Deal) Derive() {
	in := fees.Input{
		Cost:     decimal.NewFromFloat(d.Price),
		Shipping: decimal.NewFromFloat(d.ShippingCost),
		Value:    decimal.NewFromFloat(d.EstimatedValue),
	}
	res := fees.Calculate(in).Rounded()
	d.TotalCost = res.TotalCost.InexactFloat64()
	d.PlatformFees = res.PlatformFees.InexactFloat64()
	d.Profit = res.Profit.InexactFloat64()

	pickup := decimal.Zero
	if d.IsLocalPickup && d.DistanceMiles != nil {
		pickup = fees.PickupCost(decimal.NewFromFloat(*d.DistanceMiles)).Round(2)
	}
	d.PickupCost = pickup.InexactFloat64()
	d.ProfitAfterPickup = res.Profit.Sub(pickup).InexactFloat64()
}
