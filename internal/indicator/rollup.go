package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/jinzhu/now"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"meter-indicators/internal/analysis"
	"meter-indicators/internal/model"
)

// MonthlyBuilder rolls the daily records of a month up into one monthly record.
// It never reads raw measurements.
type MonthlyBuilder struct {
	store IndicatorStore
	opts  Options
	log   zerolog.Logger
}

func NewMonthlyBuilder(store IndicatorStore, opts Options) *MonthlyBuilder {
	opts = opts.withDefaults()
	return &MonthlyBuilder{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "monthly").Logger(),
	}
}

// Build reads every daily record of (deviceID, year, month) and upserts the rollup keyed on the
// first day of the month. A month without daily records ends in StateNoData.
func (b *MonthlyBuilder) Build(ctx context.Context, deviceID string, year int, month time.Month) (Result, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := now.With(first).EndOfMonth()
	key := model.NewKey(deviceID, first, model.PeriodMonthly)

	days, err := b.store.Query(ctx, deviceID, first, model.CalendarDate(last), model.PeriodDaily)
	if err != nil {
		return Result{Key: key, State: StateNoData}, fmt.Errorf("query daily records for %s: %w", key, classify(err, ErrStoreUnavailable))
	}
	if len(days) == 0 {
		b.log.Warn().Str("key", key.String()).Msg("no daily records for month, skipping")
		return Result{Key: key, State: StateNoData}, nil
	}

	rec := Rollup(key, days, DaysInMonth(year, month), b.opts.Precision)
	rec.CalculatedAt = b.opts.Clock.Now().UTC()

	if err := ctx.Err(); err != nil {
		return Result{Key: key, State: StateNoData}, err
	}
	if err := b.store.Upsert(ctx, rec); err != nil {
		return Result{Key: key, State: StateNoData}, fmt.Errorf("upsert %s: %w", key, classifyStore(err))
	}

	b.log.Info().Str("key", key.String()).
		Int("days", len(days)).
		Float64("imported_kwh", rec.ImportedEnergyKWh).
		Float64("load_factor_pct", rec.LoadFactorPct).
		Msg("monthly indicators computed")
	return Result{Key: key, State: StateComputed, Record: &rec}, nil
}

// Rollup aggregates daily records:
//   - energy fields are summed
//   - peak demand, unbalance, THD and TDD take the worst day (max)
//   - average demand and power factor are the unweighted mean of the days
//   - load factor is recomputed from the monthly totals over daysInMonth*24 hours
//
// days must not be empty.
func Rollup(key model.Key, days []model.IndicatorRecord, daysInMonth int, p analysis.Precision) model.IndicatorRecord {
	sum := func(f func(model.IndicatorRecord) float64) float64 { return lo.SumBy(days, f) }
	worst := func(f func(model.IndicatorRecord) float64) float64 {
		return lo.Max(lo.Map(days, func(r model.IndicatorRecord, _ int) float64 { return f(r) }))
	}
	mean := func(f func(model.IndicatorRecord) float64) float64 { return sum(f) / float64(len(days)) }

	imported := analysis.Round(sum(func(r model.IndicatorRecord) float64 { return r.ImportedEnergyKWh }), p.Energy)
	exported := analysis.Round(sum(func(r model.IndicatorRecord) float64 { return r.ExportedEnergyKWh }), p.Energy)
	peak := worst(func(r model.IndicatorRecord) float64 { return r.PeakDemandKW })

	rec := model.IndicatorRecord{
		Key: key,

		ImportedEnergyKWh: imported,
		ExportedEnergyKWh: exported,
		NetEnergyKWh:      analysis.Round(sum(func(r model.IndicatorRecord) float64 { return r.NetEnergyKWh }), p.Energy),

		PeakDemandKW: analysis.Round(peak, p.Energy),
		AvgDemandKW:  analysis.Round(mean(func(r model.IndicatorRecord) float64 { return r.AvgDemandKW }), p.Energy),

		LoadFactorPct:  analysis.Round(analysis.LoadFactorPct(imported, peak, float64(daysInMonth)*analysis.HoursPerDay), p.Percent),
		AvgPowerFactor: analysis.Round(mean(func(r model.IndicatorRecord) float64 { return r.AvgPowerFactor }), p.Factor),

		MaxVoltageUnbalancePct: worst(func(r model.IndicatorRecord) float64 { return r.MaxVoltageUnbalancePct }),
		MaxCurrentUnbalancePct: worst(func(r model.IndicatorRecord) float64 { return r.MaxCurrentUnbalancePct }),
		MaxVoltageTHDPct:       worst(func(r model.IndicatorRecord) float64 { return r.MaxVoltageTHDPct }),
		MaxCurrentTHDPct:       worst(func(r model.IndicatorRecord) float64 { return r.MaxCurrentTHDPct }),
		MaxCurrentTDDPct:       worst(func(r model.IndicatorRecord) float64 { return r.MaxCurrentTDDPct }),

		MeasurementCount: lo.SumBy(days, func(r model.IndicatorRecord) int { return r.MeasurementCount }),
	}
	for _, d := range days {
		if d.LastMeasurementTimestamp.After(rec.LastMeasurementTimestamp) {
			rec.LastMeasurementTimestamp = d.LastMeasurementTimestamp
		}
	}
	return rec
}

// DaysInMonth returns the number of calendar days of month.
func DaysInMonth(year int, month time.Month) int {
	return now.With(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)).EndOfMonth().Day()
}
