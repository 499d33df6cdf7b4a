package performance

import (
	"math"
	"time"

	"github.com/wealthkit/autopilot/internal/model"
)

// TotalReturnPct is the cumulative return against the initial deposit.
func TotalReturnPct(totalValue, initialDeposit float64) float64 {
	if initialDeposit <= 0 {
		return 0
	}
	return (totalValue - initialDeposit) / initialDeposit * 100
}

// PeriodReturn computes the return over the trailing window by finding
// the earliest snapshot taken at or after now-days. Without such a
// snapshot the history is too short and the period return is 0.
func PeriodReturn(snapshots []model.PerformanceSnapshot, currentValue float64, days int, now time.Time) float64 {
	cutoff := now.AddDate(0, 0, -days)
	for _, s := range snapshots {
		if s.Ts.Before(cutoff) {
			continue
		}
		if s.TotalValue <= 0 {
			return 0
		}
		return (currentValue - s.TotalValue) / s.TotalValue * 100
	}
	return 0
}

// SharpeRatio over the per-snapshot return series. riskFree is in the
// same per-interval percent units as the returns. Fewer than two
// returns or a flat series yield 0.
func SharpeRatio(snapshots []model.PerformanceSnapshot, riskFree float64) float64 {
	returns := intervalReturns(snapshots, 100)
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	sd := stddev(returns, mean)
	if sd == 0 {
		return 0
	}
	return (mean - riskFree) / sd
}

// MaxDrawdown is the largest peak-to-trough decline over the snapshot
// series, in percent.
func MaxDrawdown(snapshots []model.PerformanceSnapshot) float64 {
	var peak, maxDD float64
	for _, s := range snapshots {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - s.TotalValue) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Volatility is the standard deviation of per-snapshot fractional
// returns. Risk limits compare against it directly.
func Volatility(snapshots []model.PerformanceSnapshot) float64 {
	returns := intervalReturns(snapshots, 1)
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	return stddev(returns, mean)
}

func intervalReturns(snapshots []model.PerformanceSnapshot, scale float64) []float64 {
	if len(snapshots) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].TotalValue
		if prev <= 0 {
			continue
		}
		returns = append(returns, (snapshots[i].TotalValue-prev)/prev*scale)
	}
	return returns
}

func stddev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
