// Package fees is the single place profit and ROI are computed. Anything that
// needs those numbers calls Calculate.
package fees

import "github.com/shopspring/decimal"

var (
	// MarketplaceRate and MarketplaceFixed make up the final value fee.
	MarketplaceRate  = decimal.RequireFromString("0.129")
	MarketplaceFixed = decimal.RequireFromString("0.30")
	// PaymentRate and PaymentFixed make up the payment processing fee.
	PaymentRate  = decimal.RequireFromString("0.029")
	PaymentFixed = decimal.RequireFromString("0.30")

	// Pickup economics: gas at $3.50/gal and 25mpg, time at $50/hr and 30mph.
	gasPricePerGallon = decimal.RequireFromString("3.50")
	milesPerGallon    = decimal.NewFromInt(25)
	pickupHourlyRate  = decimal.NewFromInt(50)
	averageSpeedMPH   = decimal.NewFromInt(30)

	hundred = decimal.NewFromInt(100)
)

// Input is a cost/value tuple. All values are non-negative and in one currency.
type Input struct {
	Cost     decimal.Decimal
	Shipping decimal.Decimal
	Pickup   decimal.Decimal
	Value    decimal.Decimal
}

// Result is the itemized outcome of Calculate.
type Result struct {
	TotalCost      decimal.Decimal `json:"total_cost"`
	MarketplaceFee decimal.Decimal `json:"marketplace_fee"`
	PaymentFee     decimal.Decimal `json:"payment_fee"`
	PlatformFees   decimal.Decimal `json:"platform_fees"`
	PickupCost     decimal.Decimal `json:"pickup_cost"`
	NetRevenue     decimal.Decimal `json:"net_revenue"`
	Profit         decimal.Decimal `json:"profit"`
	ROI            decimal.Decimal `json:"roi"`
}

// Calculate converts an Input into profit, ROI and a fee breakdown.
// Fees are charged against the estimated resale value.
func Calculate(in Input) Result {
	total := in.Cost.Add(in.Shipping).Add(in.Pickup)
	marketplace := in.Value.Mul(MarketplaceRate).Add(MarketplaceFixed)
	payment := in.Value.Mul(PaymentRate).Add(PaymentFixed)
	platform := marketplace.Add(payment)
	net := in.Value.Sub(platform)
	profit := net.Sub(total)

	var roi decimal.Decimal
	switch {
	case total.IsPositive():
		roi = profit.Div(total).Mul(hundred)
	case in.Value.IsPositive():
		roi = hundred
	default:
		roi = decimal.Zero
	}
	return Result{
		TotalCost:      total,
		MarketplaceFee: marketplace,
		PaymentFee:     payment,
		PlatformFees:   platform,
		PickupCost:     in.Pickup,
		NetRevenue:     net,
		Profit:         profit,
		ROI:            roi,
	}
}

// Rounded returns a copy with every figure rounded to cents for presentation.
func (r Result) Rounded() Result {
	return Result{
		TotalCost:      r.TotalCost.Round(2),
		MarketplaceFee: r.MarketplaceFee.Round(2),
		PaymentFee:     r.PaymentFee.Round(2),
		PlatformFees:   r.PlatformFees.Round(2),
		PickupCost:     r.PickupCost.Round(2),
		NetRevenue:     r.NetRevenue.Round(2),
		Profit:         r.Profit.Round(2),
		ROI:            r.ROI.Round(2),
	}
}

// PickupCost estimates what collecting an item in person costs: fuel plus
// driving time.
func PickupCost(distanceMiles decimal.Decimal) decimal.Decimal {
	if !distanceMiles.IsPositive() {
		return decimal.Zero
	}
	gas := distanceMiles.Div(milesPerGallon).Mul(gasPricePerGallon)
	timeCost := distanceMiles.Div(averageSpeedMPH).Mul(pickupHourlyRate)
	return gas.Add(timeCost)
}

// ROI is a shortcut for filtering: fee-adjusted ROI of cost+shipping against value.
func ROI(cost, shipping, value decimal.Decimal) decimal.Decimal {
	return Calculate(Input{Cost: cost, Shipping: shipping, Value: value}).ROI
}
