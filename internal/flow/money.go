package flow

import "math"

// Truncate floors a monetary value to two decimal places. Division and
// percentage math always round down so the house never charges a payer a
// fraction of a cent more than their share.
func Truncate(v float64) float64 {
	return math.Floor(v*100) / 100
}

// EqualShare splits total across n payers, floor-truncated. The remainder
// created by truncation stays unbilled rather than being pushed onto one
// payer.
func EqualShare(total float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	return Truncate(total / float64(n))
}

// TipAmount computes percent% of base, floor-truncated.
func TipAmount(base, percent float64) float64 {
	if percent <= 0 {
		return 0
	}
	return Truncate(base * percent / 100)
}
