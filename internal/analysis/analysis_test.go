package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"meter-indicators/internal/model"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func meas(i int, r model.Reading) model.Measurement {
	return model.Measurement{DeviceID: "D", Timestamp: t0.Add(time.Duration(i) * 15 * time.Minute), Reading: r}
}

func importedSeries(values ...model.Register) []model.Measurement {
	out := make([]model.Measurement, len(values))
	for i, v := range values {
		out[i] = meas(i, model.Reading{Imported: v})
	}
	return out
}

func TestAccumulateEnergyNonDecreasing(t *testing.T) {
	series := importedSeries(
		model.Register{Low: 1000},
		model.Register{Low: 1200},
		model.Register{Low: 1500},
	)
	e := AccumulateEnergy(series)
	assert.Equal(t, 500.0, e.ImportedKWh)
	assert.Equal(t, 0.0, e.ExportedKWh)
	assert.Equal(t, 500.0, e.NetKWh)
}

func TestAccumulateEnergyCombinesHighWord(t *testing.T) {
	series := importedSeries(
		model.Register{Low: 900, High: 1},
		model.Register{Low: 100, High: 2},
	)
	e := AccumulateEnergy(series)
	assert.Equal(t, 200.0, e.ImportedKWh)
}

func TestAccumulateEnergyResetClampsToZero(t *testing.T) {
	series := []model.Measurement{
		meas(0, model.Reading{Imported: model.Register{Low: 5000}, Exported: model.Register{Low: 10}}),
		meas(1, model.Reading{Imported: model.Register{Low: 20}, Exported: model.Register{Low: 40}}),
	}
	e := AccumulateEnergy(series)
	assert.Equal(t, 0.0, e.ImportedKWh)
	assert.Equal(t, 30.0, e.ExportedKWh)
	assert.Equal(t, -30.0, e.NetKWh)
}

func TestAccumulateEnergyEmpty(t *testing.T) {
	assert.Equal(t, Energy{}, AccumulateEnergy(nil))
}

func TestAccumulateEnergyNeverNegative(t *testing.T) {
	for first := 0.0; first <= 3000; first += 750 {
		for last := 0.0; last <= 3000; last += 750 {
			e := AccumulateEnergy(importedSeries(model.Register{Low: first}, model.Register{Low: last}))
			assert.GreaterOrEqual(t, e.ImportedKWh, 0.0)
			if last >= first {
				assert.Equal(t, last-first, e.ImportedKWh)
			}
		}
	}
}

func TestAnalyzeDemandSkipsMissing(t *testing.T) {
	series := []model.Measurement{
		meas(0, model.Reading{MaxActivePowerDemand: model.Float(10), TotalActivePower: model.Float(8)}),
		meas(1, model.Reading{MaxActivePowerDemand: model.Float(25)}),
		meas(2, model.Reading{MaxActivePowerDemand: model.Float(15), TotalActivePower: model.Float(12)}),
	}
	d := AnalyzeDemand(series)
	assert.Equal(t, 25.0, d.PeakKW)
	assert.Equal(t, 10.0, d.AvgKW, "reading without totalActivePower must not count as 0")
}

func TestAnalyzeDemandNoQualifyingReadings(t *testing.T) {
	d := AnalyzeDemand([]model.Measurement{meas(0, model.Reading{})})
	assert.Equal(t, Demand{}, d)
}

func TestPhaseUnbalanceVoltageExample(t *testing.T) {
	u, ok := PhaseUnbalancePct(model.Phases{A: 220, B: 225, C: 210})
	assert.True(t, ok)
	assert.InDelta(t, 3.817, u, 0.001)
}

func TestPhaseUnbalanceSkipsNonPositive(t *testing.T) {
	_, ok := PhaseUnbalancePct(model.Phases{A: 220, B: 0, C: 210})
	assert.False(t, ok)
	_, ok = PhaseUnbalancePct(model.Phases{A: 220, B: 225, C: -1})
	assert.False(t, ok)
}

func TestAnalyzePowerQualityWorstCase(t *testing.T) {
	series := []model.Measurement{
		meas(0, model.Reading{Voltage: model.Phases{A: 230, B: 230, C: 230}}),             // 0 %
		meas(1, model.Reading{Voltage: model.Phases{A: 220, B: 225, C: 210}}),             // ~3.81 %
		meas(2, model.Reading{Voltage: model.Phases{A: 231, B: 229, C: 230}}),             // ~0.43 %
		meas(3, model.Reading{Voltage: model.Phases{A: 0, B: 100, C: 300}}),               // skipped
		meas(4, model.Reading{Current: model.Phases{A: 10, B: 10, C: 16}, TotalPowerFactor: model.Float(0.9)}),
	}
	pq := AnalyzePowerQuality(series)

	want, _ := PhaseUnbalancePct(model.Phases{A: 220, B: 225, C: 210})
	assert.Equal(t, want, pq.MaxVoltageUnbalancePct, "result is the max, not the mean")
	assert.InDelta(t, 33.33, pq.MaxCurrentUnbalancePct, 0.01)
	assert.Equal(t, 0.9, pq.AvgPowerFactor)
}

func TestAnalyzePowerQualityDistortion(t *testing.T) {
	series := []model.Measurement{
		meas(0, model.Reading{
			VoltageTHD: model.Phases{A: 1.2, B: 2.5, C: 1.1},
			CurrentTHD: model.Phases{A: 8, B: 4, C: 5},
			CurrentTDD: model.Phases{A: 3, B: 3, C: 3},
		}),
		meas(1, model.Reading{
			VoltageTHD: model.Phases{A: 2.0, B: 1.0, C: 2.1},
			CurrentTHD: model.Phases{A: 6, B: 9, C: 2},
			CurrentTDD: model.Phases{A: 1, B: 6.5, C: 2},
		}),
	}
	pq := AnalyzePowerQuality(series)
	assert.Equal(t, 2.5, pq.MaxVoltageTHDPct)
	assert.Equal(t, 9.0, pq.MaxCurrentTHDPct)
	assert.Equal(t, 6.5, pq.MaxCurrentTDDPct)
	assert.Equal(t, 0.0, pq.AvgPowerFactor)
}

func TestLoadFactor(t *testing.T) {
	assert.InDelta(t, 83.333, LoadFactorPct(500, 25, 24), 0.001)
	assert.Equal(t, 0.0, LoadFactorPct(500, 0, 24))
	assert.Equal(t, 0.0, LoadFactorPct(500, 25, 0))
	assert.Equal(t, 100.0, LoadFactorPct(5000, 25, 24), "clamped at 100")
	assert.Equal(t, 0.0, LoadFactorPct(-10, 25, 24), "clamped at 0")
}

func TestLoadFactorBounds(t *testing.T) {
	for _, e := range []float64{-100, 0, 1, 250, 600, 1e6} {
		for _, p := range []float64{-1, 0, 0.5, 25, 1000} {
			for _, h := range []float64{-24, 0, 24, 744} {
				lf := LoadFactorPct(e, p, h)
				assert.GreaterOrEqual(t, lf, 0.0)
				assert.LessOrEqual(t, lf, 100.0)
			}
		}
	}
}

func TestAccumulateEnergyOverflowedRegister(t *testing.T) {
	e := AccumulateEnergy(importedSeries(
		model.Register{High: 1e306},
		model.Register{High: 1e306},
	))
	assert.Zero(t, e.ImportedKWh)
	assert.Zero(t, e.NetKWh)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 83.33, Round(83.3333333, 2))
	assert.Equal(t, 1.235, Round(1.2345, 3))
	assert.Equal(t, -0.5, Round(-0.4999, 1))
	assert.Equal(t, 500.0, Round(500, 3))
	assert.Zero(t, Round(math.NaN(), 2))
	assert.Zero(t, Round(math.Inf(1), 3))
	assert.Zero(t, Round(math.Inf(-1), 3))
}
