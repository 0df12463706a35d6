package notify

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"scoutline/internal/domain"
)

// DealAlert carries what an operator needs to decide on a new deal.
type DealAlert struct {
	MissionID      string
	Title          string
	URL            string
	Price          decimal.Decimal
	Shipping       decimal.Decimal
	EstimatedValue decimal.Decimal
	ROI            decimal.Decimal
	Profit         decimal.Decimal
	SellerName     string
	SellerRating   float64
	City           string
	HoursLeft      float64
}

// Urgent reports whether the listing ends within the hour at a worthwhile ROI.
func (a DealAlert) Urgent() bool {
	return a.HoursLeft < 1 && a.ROI.GreaterThan(decimal.NewFromInt(50))
}

// Priority is urgent for urgent alerts, high above 100% ROI, else normal.
func (a DealAlert) Priority() string {
	switch {
	case a.Urgent():
		return domain.PriorityUrgent
	case a.ROI.GreaterThan(decimal.NewFromInt(100)):
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

// FormatDealAlert renders the Markdown alert for a new deal.
func FormatDealAlert(a DealAlert) Message {
	header := "🔍 NEW DEAL FOUND"
	if a.Urgent() {
		header = fmt.Sprintf("🚨 URGENT DEAL - ENDING IN %dm", int(math.Round(a.HoursLeft*60)))
	}
	ends := "∞"
	if a.HoursLeft < 999 {
		ends = fmt.Sprintf("%.1fh", a.HoursLeft)
	}
	seller := a.SellerName
	if seller == "" {
		seller = "?"
	}
	city := a.City
	if city == "" {
		city = "US"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", header)
	fmt.Fprintf(&b, "📦 %s\n", truncate(a.Title, 60))
	fmt.Fprintf(&b, "💰 $%s + $%s ship\n", a.Price.StringFixed(2), a.Shipping.StringFixed(2))
	fmt.Fprintf(&b, "📊 Value: $%s | ROI: %s%%\n", a.EstimatedValue.StringFixed(2), a.ROI.StringFixed(1))
	fmt.Fprintf(&b, "💵 Profit: +$%s\n", a.Profit.StringFixed(2))
	fmt.Fprintf(&b, "👤 %s (%.1f%%)\n", seller, a.SellerRating)
	fmt.Fprintf(&b, "⏰ Ends: %s\n", ends)
	fmt.Fprintf(&b, "📍 %s", city)
	if a.URL != "" {
		fmt.Fprintf(&b, "\n\n[View on eBay](%s)", a.URL)
	}
	return Message{
		Text:      b.String(),
		Actions:   append([]string(nil), DealActions...),
		MissionID: a.MissionID,
		Priority:  a.Priority(),
	}
}

// RunSummary is the end-of-cycle report.
type RunSummary struct {
	Approved int
	Passed   int
	Tracked  int
	Errors   int
}

func FormatRunSummary(s RunSummary) Message {
	text := fmt.Sprintf("✅ Scout cycle complete\n📥 %d deals queued\n👻 %d ghost-passed\n🗂 %d already tracked", s.Approved, s.Passed, s.Tracked)
	if s.Errors > 0 {
		text += fmt.Sprintf("\n⚠️ %d errors", s.Errors)
	}
	return Message{Text: text, Priority: domain.PriorityNormal}
}

func FormatRunFailure(err error) Message {
	return Message{Text: fmt.Sprintf("❌ Scout error: %v", err), Priority: domain.PriorityHigh}
}

// FormatRollbackFailure alerts the operator to a mission left without its deal.
func FormatRollbackFailure(missionID, url string, err error) Message {
	return Message{
		Text:      fmt.Sprintf("🚨 Orphan mission %s\nDeal insert failed and the mission could not be removed.\n%s\n%v", missionID, url, err),
		MissionID: missionID,
		Priority:  domain.PriorityUrgent,
	}
}

// FormatConfigError alerts the operator to a refusal caused by missing configuration.
func FormatConfigError(what string) Message {
	return Message{Text: "🚨 Configuration error: " + what, Priority: domain.PriorityUrgent}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
