package analysis

import (
	"math"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places kept per indicator family.
type Precision struct {
	Energy  int32 // kWh and kW values
	Percent int32
	Factor  int32 // power factor
}

// DefaultPrecision matches what dashboards expect: 3 places for energy and demand,
// 2 for percentages.
var DefaultPrecision = Precision{Energy: 3, Percent: 2, Factor: 3}

// Round rounds half away from zero at the given number of places, in decimal arithmetic.
// NaN and infinities round to 0.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
