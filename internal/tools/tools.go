package tools

import "github.com/shopspring/decimal"

// RoundCash rounds a dollar amount to whole cents, half away from zero.
// Every cash movement goes through here so repeated float arithmetic
// can't accumulate sub-cent drift.
func RoundCash(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Fee is rate times notional, rounded to cents.
func Fee(notional, rate float64) float64 {
	f, _ := decimal.NewFromFloat(notional).Mul(decimal.NewFromFloat(rate)).Round(2).Float64()
	return f
}

// SplitEvenly divides a dollar total into n cent-exact parts; the first
// part absorbs the remainder.
func SplitEvenly(total float64, n int) []float64 {
	if n <= 0 {
		return nil
	}

	t := decimal.NewFromFloat(total)
	part := t.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	first := t.Sub(part.Mul(decimal.NewFromInt(int64(n - 1))))

	out := make([]float64, n)
	out[0], _ = first.Round(2).Float64()
	for i := 1; i < n; i++ {
		out[i], _ = part.Float64()
	}
	return out
}
