// Package ghost is the risk and eligibility filter applied to every candidate
// listing before it becomes a deal.
package ghost

import (
	"strings"

	"github.com/shopspring/decimal"

	"scoutline/internal/domain"
	"scoutline/internal/estimator"
	"scoutline/internal/fees"
)

// Reason is a machine-readable verdict code.
type Reason string

const (
	ReasonPass                 Reason = "pass"
	ReasonRedFlag              Reason = "red_flag_keyword"
	ReasonSellerRisky          Reason = "seller_risky"
	ReasonShippingExpensive    Reason = "shipping_expensive"
	ReasonROIBelowMinimum      Reason = "roi_below_20pct"
	ReasonNonElectronicsLowROI Reason = "non_electronics_low_roi"
)

// Rules holds the filter thresholds.
type Rules struct {
	RedFlags             []string
	MinSellerRating      float64
	MinSellerFeedback    int
	MaxShippingRatio     decimal.Decimal
	MinROI               decimal.Decimal
	MinROINonElectronics decimal.Decimal
}

// DefaultRules are the production thresholds.
func DefaultRules() Rules {
	return Rules{
		RedFlags:             []string{"water", "liquid", "spill", "corrosion", "icloud", "locked", "bios", "blacklisted"},
		MinSellerRating:      90,
		MinSellerFeedback:    50,
		MaxShippingRatio:     decimal.RequireFromString("0.3"),
		MinROI:               decimal.NewFromInt(20),
		MinROINonElectronics: decimal.NewFromInt(100),
	}
}

// Verdict is the outcome of Evaluate. Figures are kept at full precision;
// call Rounded on Fees for presentation.
type Verdict struct {
	Pass           bool
	Reason         Reason
	ItemType       string
	EstimatedValue decimal.Decimal
	Fees           fees.Result
}

// ROI is a convenience accessor for the computed ROI (zero before rule 4).
func (v Verdict) ROI() decimal.Decimal { return v.Fees.ROI }

// Filter applies Rules to listings.
type Filter struct {
	Rules Rules
}

// New returns a Filter using rules, filling unset thresholds from DefaultRules.
func New(rules Rules) Filter {
	def := DefaultRules()
	if len(rules.RedFlags) == 0 {
		rules.RedFlags = def.RedFlags
	}
	if rules.MinSellerRating == 0 {
		rules.MinSellerRating = def.MinSellerRating
	}
	if rules.MinSellerFeedback == 0 {
		rules.MinSellerFeedback = def.MinSellerFeedback
	}
	if rules.MaxShippingRatio.IsZero() {
		rules.MaxShippingRatio = def.MaxShippingRatio
	}
	if rules.MinROI.IsZero() {
		rules.MinROI = def.MinROI
	}
	if rules.MinROINonElectronics.IsZero() {
		rules.MinROINonElectronics = def.MinROINonElectronics
	}
	return Filter{Rules: rules}
}

// Evaluate runs the rules in order and stops at the first failure.
func (f Filter) Evaluate(l domain.Listing, estimatedValue decimal.Decimal) Verdict {
	itemType := l.ItemType
	if itemType == "" {
		itemType = estimator.ItemType(l.Title)
	}
	v := Verdict{ItemType: itemType, EstimatedValue: estimatedValue}

	title := strings.ToLower(l.Title)
	for _, flag := range f.Rules.RedFlags {
		if flag != "" && strings.Contains(title, strings.ToLower(flag)) {
			v.Reason = ReasonRedFlag
			return v
		}
	}

	if l.SellerRating < f.Rules.MinSellerRating || l.SellerFeedbackCount < f.Rules.MinSellerFeedback {
		v.Reason = ReasonSellerRisky
		return v
	}

	if l.Price.IsPositive() && l.ShippingCost.Div(l.Price).GreaterThan(f.Rules.MaxShippingRatio) {
		v.Reason = ReasonShippingExpensive
		return v
	}

	v.Fees = fees.Calculate(fees.Input{Cost: l.Price, Shipping: l.ShippingCost, Value: estimatedValue})
	if v.Fees.ROI.LessThan(f.Rules.MinROI) {
		v.Reason = ReasonROIBelowMinimum
		return v
	}

	if itemType != estimator.TypeElectronics && v.Fees.ROI.LessThan(f.Rules.MinROINonElectronics) {
		v.Reason = ReasonNonElectronicsLowROI
		return v
	}

	v.Pass = true
	v.Reason = ReasonPass
	return v
}
