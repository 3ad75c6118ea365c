// Package metrics holds the profit arithmetic shared by the dashboard and
// per-campaign stats endpoints.  The functions are pure so they can be
// exercised without a database.
package metrics

import "math"

// Profit is the breakdown of a campaign's earnings between the operation
// and the investor owning the campaign.
type Profit struct {
	TotalRevenue   float64 `json:"total_revenue"`
	NetProfit      float64 `json:"net_profit"`
	InvestorProfit float64 `json:"investor_profit"`
	AdminProfit    float64 `json:"admin_profit"`
	ROI            float64 `json:"roi"`
}

// Calc derives the profit breakdown from total revenue, campaign budget
// and the investor's share percentage.  ROI is zero when the budget is not
// positive.  All values are rounded to 2 decimals.
func Calc(totalRevenue, budget, percent float64) Profit {
	net := totalRevenue - budget
	investor := net * percent / 100.0
	admin := net - investor
	roi := 0.0
	if budget > 0 {
		roi = net / budget * 100.0
	}
	return Profit{
		TotalRevenue:   round2(totalRevenue),
		NetProfit:      round2(net),
		InvestorProfit: round2(investor),
		AdminProfit:    round2(admin),
		ROI:            round2(roi),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
