package analysis

import "meter-indicators/internal/model"

// Demand summarizes instantaneous power over a window, in kW.
type Demand struct {
	PeakKW float64
	AvgKW  float64
}

// AnalyzeDemand takes the maximum of maxActivePowerDemand and the arithmetic mean of
// totalActivePower. Readings without the respective point are left out rather than
// counted as 0; with no qualifying reading the value is 0.
func AnalyzeDemand(measurements []model.Measurement) Demand {
	var (
		peak     float64
		havePeak bool
		sum      float64
		n        int
	)
	for _, m := range measurements {
		if v := m.Reading.MaxActivePowerDemand; v != nil {
			if !havePeak || *v > peak {
				peak = *v
				havePeak = true
			}
		}
		if v := m.Reading.TotalActivePower; v != nil {
			sum += *v
			n++
		}
	}
	d := Demand{PeakKW: peak}
	if n > 0 {
		d.AvgKW = sum / float64(n)
	}
	return d
}
