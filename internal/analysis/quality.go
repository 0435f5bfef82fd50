package analysis

import (
	"math"

	"meter-indicators/internal/model"
)

// PowerQuality is the worst-case power-quality view of a window.
type PowerQuality struct {
	AvgPowerFactor float64

	MaxVoltageUnbalancePct float64
	MaxCurrentUnbalancePct float64

	MaxVoltageTHDPct float64
	MaxCurrentTHDPct float64
	MaxCurrentTDDPct float64
}

// AnalyzePowerQuality reduces a window of measurements to power-quality indicators.
//
//   - AvgPowerFactor is the mean of totalPowerFactor over the readings that carry it, 0 if none.
//   - The unbalance fields are the maximum of PhaseUnbalancePct over the window, evaluated
//     for voltage and current independently. The result is the worst moment of the period.
//   - The THD and TDD fields are the maximum over measurements of the maximum phase.
func AnalyzePowerQuality(measurements []model.Measurement) PowerQuality {
	var (
		pq    PowerQuality
		pfSum float64
		pfN   int
	)
	for _, m := range measurements {
		r := m.Reading
		if r.TotalPowerFactor != nil {
			pfSum += *r.TotalPowerFactor
			pfN++
		}
		if u, ok := PhaseUnbalancePct(r.Voltage); ok {
			pq.MaxVoltageUnbalancePct = math.Max(pq.MaxVoltageUnbalancePct, u)
		}
		if u, ok := PhaseUnbalancePct(r.Current); ok {
			pq.MaxCurrentUnbalancePct = math.Max(pq.MaxCurrentUnbalancePct, u)
		}
		pq.MaxVoltageTHDPct = math.Max(pq.MaxVoltageTHDPct, r.VoltageTHD.Max())
		pq.MaxCurrentTHDPct = math.Max(pq.MaxCurrentTHDPct, r.CurrentTHD.Max())
		pq.MaxCurrentTDDPct = math.Max(pq.MaxCurrentTDDPct, r.CurrentTDD.Max())
	}
	if pfN > 0 {
		pq.AvgPowerFactor = pfSum / float64(pfN)
	}
	return pq
}

// PhaseUnbalancePct returns the deviation of the most-skewed phase from the three-phase
// average, in percent. ok is false when any phase is not strictly positive.
func PhaseUnbalancePct(p model.Phases) (pct float64, ok bool) {
	if p.A <= 0 || p.B <= 0 || p.C <= 0 {
		return 0, false
	}
	avg := (p.A + p.B + p.C) / 3
	dev := math.Max(math.Abs(p.A-avg), math.Max(math.Abs(p.B-avg), math.Abs(p.C-avg)))
	return dev / avg * 100, true
}
