package model

import "time"

// PerformanceSnapshot is one point of the rolling value series the
// performance tracker appends to. The series is the sole input to the
// derived statistics.
type PerformanceSnapshot struct {
	Ts                  time.Time `json:"ts"`
	TotalValue          float64   `json:"total_value"`
	CumulativeReturnPct float64   `json:"cumulative_return_pct"`
}

// PerformanceStats is the last-computed set of statistics attached to a
// portfolio.
type PerformanceStats struct {
	TotalValue     float64   `json:"total_value"`
	TotalReturnPct float64   `json:"total_return_pct"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	UpdatedAt      time.Time `json:"updated_at"`
}
