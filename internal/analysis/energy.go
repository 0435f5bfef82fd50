package analysis

import (
	"math"

	"meter-indicators/internal/model"
)

// Energy is the counter-derived energy balance of a window, in kWh.
type Energy struct {
	ImportedKWh float64
	ExportedKWh float64
	NetKWh      float64
}

// AccumulateEnergy differences the cumulative registers between the earliest and the
// latest measurement of the window.
//
// measurements must be ordered by timestamp. An empty window yields a zero Energy; callers
// tell "no data" apart by the measurement count, not by this result.
//
// A register that went backwards (meter reset, rollover or replacement) produces a negative
// delta which is clamped to 0. The consumption of that window is under-reported; there is no
// attempt to tell a rollover from bad data.
func AccumulateEnergy(measurements []model.Measurement) Energy {
	if len(measurements) == 0 {
		return Energy{}
	}
	first := measurements[0].Reading
	last := measurements[len(measurements)-1].Reading

	imported := counterDelta(first.Imported, last.Imported)
	exported := counterDelta(first.Exported, last.Exported)
	return Energy{
		ImportedKWh: imported,
		ExportedKWh: exported,
		NetKWh:      imported - exported,
	}
}

// counterDelta is 0 when the counter went backwards or a register overflowed float64.
func counterDelta(first, last model.Register) float64 {
	d := last.KWh() - first.KWh()
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}
