package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mission statuses.
const (
	MissionInbox      = "inbox"
	MissionAssigned   = "assigned"
	MissionActive     = "active"
	MissionReview     = "review"
	MissionNeedsHuman = "needs_shuki"
	MissionDone       = "done"
	MissionRejected   = "rejected"
)

// Deal statuses.
const (
	DealPending   = "pending"
	DealApproved  = "approved"
	DealPurchased = "purchased"
	DealRejected  = "rejected"
)

// Priorities.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// Agent statuses.
const (
	AgentActive = "active"
	AgentIdle   = "idle"
	AgentPaused = "paused"
)

// Activity severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

type Mission struct {
	ID          string   `json:"id"`
	AgentID     string   `json:"agent_id"`
	Status      string   `json:"status" enum:"inbox,assigned,active,review,needs_shuki,done,rejected"`
	Priority    string   `json:"priority" enum:"urgent,high,normal"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	AssignedTo  string   `json:"assigned_to,omitempty"`
	Metadata    Metadata `json:"metadata"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

// Terminal reports whether the mission can no longer change state.
func (m Mission) Terminal() bool {
	return IsTerminalMission(m.Status)
}

type Deal struct {
	ID                  string   `json:"id"`
	MissionID           string   `json:"mission_id"`
	Platform            string   `json:"platform"`
	ItemURL             string   `json:"item_url"`
	Title               string   `json:"title"`
	Price               float64  `json:"price"`
	ShippingCost        float64  `json:"shipping_cost"`
	EstimatedValue      float64  `json:"estimated_value"`
	ROIPercent          float64  `json:"roi_percent"`
	ItemType            string   `json:"item_type"`
	Model               string   `json:"model,omitempty"`
	Condition           string   `json:"condition,omitempty"`
	Location            string   `json:"location,omitempty"`
	IsLocalPickup       bool     `json:"is_local_pickup"`
	DistanceMiles       *float64 `json:"distance_miles,omitempty"`
	SellerName          string   `json:"seller_name,omitempty"`
	SellerRating        *float64 `json:"seller_rating,omitempty"`
	SellerFeedbackCount *int     `json:"seller_feedback_count,omitempty"`
	AuctionEndsAt       *string  `json:"auction_ends_at,omitempty" format:"date-time"`
	Status              string   `json:"status" enum:"pending,approved,purchased,rejected"`
	RejectionReason     *string  `json:"rejection_reason,omitempty"`
	DecisionMadeAt      *string  `json:"decision_made_at,omitempty" format:"date-time"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`

	// Derived on read, never persisted.
	TotalCost    float64 `json:"total_cost"`
	PlatformFees float64 `json:"platform_fees"`
	Profit       float64 `json:"profit"`

	// Local pickup only; zero pickup cost otherwise.
	PickupCost        float64 `json:"pickup_cost"`
	ProfitAfterPickup float64 `json:"profit_after_pickup"`
}

// Terminal reports whether the deal left the pending state.
func (d Deal) Terminal() bool {
	return IsTerminalDeal(d.Status)
}

// DealView is a deal joined with its mission state, as front-ends see it.
type DealView struct {
	Deal
	MissionStatus string `json:"mission_status"`
	Priority      string `json:"priority"`
	DisplayStatus string `json:"display_status" enum:"inbox,review,needs_human,done"`
}

// Listing is a normalized marketplace search result.
type Listing struct {
	ItemID              string
	Title               string
	URL                 string
	Price               decimal.Decimal
	Currency            string
	ShippingCost        decimal.Decimal
	Condition           string
	City                string
	PostalCode          string
	Country             string
	SellerName          string
	SellerRating        float64
	SellerFeedbackCount int
	EndsAt              *time.Time
	LocalPickup         bool
	DistanceMiles       *float64
	ItemType            string
}

// HoursLeft returns the hours until the listing ends, or 999 when it has no end.
func (l Listing) HoursLeft(now time.Time) float64 {
	if l.EndsAt == nil {
		return 999
	}
	return l.EndsAt.Sub(now).Hours()
}

type TrendRecord struct {
	ID         int64          `json:"id"`
	ItemType   string         `json:"item_type"`
	Model      string         `json:"model,omitempty"`
	AvgPrice   float64        `json:"avg_price"`
	AvgValue   float64        `json:"avg_value"`
	PassReason string         `json:"pass_reason"`
	Platform   string         `json:"platform"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type AuditEntry struct {
	ID          string         `json:"id"`
	DealID      string         `json:"deal_id"`
	MissionID   string         `json:"mission_id"`
	Action      string         `json:"action" enum:"approve,reject,escalate"`
	Source      string         `json:"source"`
	PerformedBy string         `json:"performed_by"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type AgentActivity struct {
	ID        int64  `json:"id"`
	AgentID   string `json:"agent_id"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	Severity  string `json:"severity" enum:"info,warning,error"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Agent struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Role          string  `json:"role,omitempty"`
	Status        string  `json:"status" enum:"active,idle,paused"`
	LastHeartbeat *string `json:"last_heartbeat,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type Notification struct {
	ID        string   `json:"id"`
	MissionID string   `json:"mission_id,omitempty"`
	Message   string   `json:"message"`
	Priority  string   `json:"priority"`
	Actions   []string `json:"actions,omitempty"`
	Status    string   `json:"status" enum:"sent,failed"`
	Error     string   `json:"error,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type Benchmark struct {
	Model        string  `json:"model"`
	ItemType     string  `json:"item_type"`
	AvgSoldPrice float64 `json:"avg_sold_price"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Operator struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
