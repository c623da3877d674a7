package shared

import (
	"math"
	"strconv"
)

// qtyEpsilon absorbs float noise when comparing quantities.
const qtyEpsilon = 1e-9

// RoundQty rounds quantities to 4 decimals.
func RoundQty(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// RoundAmount rounds monetary amounts to 2 decimals.
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}

// QtyGreater reports whether a exceeds b beyond float noise.
func QtyGreater(a, b float64) bool {
	return a-b > qtyEpsilon
}

// FormatQty renders a quantity without trailing zeros.
func FormatQty(v float64) string {
	return strconv.FormatFloat(RoundQty(v), 'f', -1, 64)
}
