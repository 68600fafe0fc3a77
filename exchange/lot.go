package exchange

import (
	"math"
	"strconv"
)

// RoundQuantity floors a quantity to the instrument's step size. Flooring,
// not rounding: an order must never exceed the sized exposure.
func RoundQuantity(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

// FormatQuantity renders a quantity with exactly the precision the step size
// implies, the form the order API expects.
func FormatQuantity(qty, step float64) string {
	decimals := 0
	for s := step; s > 0 && s < 1; s *= 10 {
		decimals++
	}
	return strconv.FormatFloat(qty, 'f', decimals, 64)
}
