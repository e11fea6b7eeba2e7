package engine

import "math"

// MonthlyCommission computes the commission due for one month of rent at the
// given percentage rate, rounded half-up to the nearest whole currency unit.
// Commission is never stored; it is always recomputed from the property's
// current rent so views stay consistent when rent changes.
func MonthlyCommission(rent, rate float64) int64 {
	return int64(math.Floor(rent*rate/100 + 0.5))
}

// PortfolioCommission sums the monthly commission over a set of rents at a
// single rate.
func PortfolioCommission(rents []float64, rate float64) int64 {
	var total int64
	for _, rent := range rents {
		total += MonthlyCommission(rent, rate)
	}
	return total
}
