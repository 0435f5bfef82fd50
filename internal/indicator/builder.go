package indicator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jinzhu/now"
	"github.com/rs/zerolog"

	"meter-indicators/internal/analysis"
	"meter-indicators/internal/model"
)

// State is the terminal state of one computation.
type State string

const (
	// StateNoData: the window had no input, nothing was written.
	StateNoData State = "NO_DATA"
	// StateComputed: a record was computed and upserted.
	StateComputed State = "COMPUTED"
)

// Result is what a builder produced for one key.
type Result struct {
	Key    model.Key
	State  State
	Record *model.IndicatorRecord
}

// Options are shared by the daily and monthly builders.
type Options struct {
	// Location defines calendar-day boundaries. Defaults to UTC.
	Location  *time.Location
	Precision analysis.Precision
	Clock     clock.Clock
	Logger    zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Precision == (analysis.Precision{}) {
		o.Precision = analysis.DefaultPrecision
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// DailyBuilder computes one daily record from raw measurements.
type DailyBuilder struct {
	repo  MeasurementRepository
	store IndicatorStore
	opts  Options
	log   zerolog.Logger
}

func NewDailyBuilder(repo MeasurementRepository, store IndicatorStore, opts Options) *DailyBuilder {
	opts = opts.withDefaults()
	return &DailyBuilder{
		repo:  repo,
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "daily").Logger(),
	}
}

// Window returns the inclusive bounds of the calendar day of date, in the builder location.
func (b *DailyBuilder) Window(date time.Time) model.TimeRange {
	y, m, d := date.Date()
	day := now.With(time.Date(y, m, d, 12, 0, 0, 0, b.opts.Location))
	return model.TimeRange{Start: day.BeginningOfDay(), End: day.EndOfDay()}
}

// Build fetches the day's measurements for deviceID and upserts the resulting record.
//
// An empty window ends in StateNoData without touching the store. Running Build again for the
// same day recomputes from raw data and replaces the previous record. Nothing is written unless
// the whole computation succeeded.
func (b *DailyBuilder) Build(ctx context.Context, deviceID string, date time.Time) (Result, error) {
	key := model.NewKey(deviceID, date, model.PeriodDaily)
	window := b.Window(date)

	measurements, err := b.repo.Fetch(ctx, deviceID, window)
	if err != nil {
		return Result{Key: key, State: StateNoData}, fmt.Errorf("fetch %s: %w", key, classify(err, ErrRepositoryUnavailable))
	}
	if len(measurements) == 0 {
		b.log.Warn().Str("key", key.String()).
			Time("start", window.Start).Time("end", window.End).
			Msg("no measurements in window, skipping")
		return Result{Key: key, State: StateNoData}, nil
	}

	rec := Reduce(key, measurements, analysis.HoursPerDay, b.opts.Precision)
	rec.CalculatedAt = b.opts.Clock.Now().UTC()

	if err := ctx.Err(); err != nil {
		return Result{Key: key, State: StateNoData}, err
	}
	if err := b.store.Upsert(ctx, rec); err != nil {
		return Result{Key: key, State: StateNoData}, fmt.Errorf("upsert %s: %w", key, classifyStore(err))
	}

	b.log.Info().Str("key", key.String()).
		Int("measurements", rec.MeasurementCount).
		Float64("imported_kwh", rec.ImportedEnergyKWh).
		Float64("peak_kw", rec.PeakDemandKW).
		Msg("daily indicators computed")
	return Result{Key: key, State: StateComputed, Record: &rec}, nil
}

// Reduce runs every analyzer over a non-empty window and rounds the outcome.
// CalculatedAt is left for the caller to set.
func Reduce(key model.Key, measurements []model.Measurement, periodHours float64, p analysis.Precision) model.IndicatorRecord {
	sorted := make([]model.Measurement, len(measurements))
	copy(sorted, measurements)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	energy := analysis.AccumulateEnergy(sorted)
	demand := analysis.AnalyzeDemand(sorted)
	quality := analysis.AnalyzePowerQuality(sorted)
	loadFactor := analysis.LoadFactorPct(energy.ImportedKWh, demand.PeakKW, periodHours)

	imported := analysis.Round(energy.ImportedKWh, p.Energy)
	exported := analysis.Round(energy.ExportedKWh, p.Energy)

	rec := model.IndicatorRecord{
		Key: key,

		ImportedEnergyKWh: imported,
		ExportedEnergyKWh: exported,
		NetEnergyKWh:      analysis.Round(imported-exported, p.Energy),

		PeakDemandKW: analysis.Round(demand.PeakKW, p.Energy),
		AvgDemandKW:  analysis.Round(demand.AvgKW, p.Energy),

		LoadFactorPct:  analysis.Round(loadFactor, p.Percent),
		AvgPowerFactor: analysis.Round(quality.AvgPowerFactor, p.Factor),

		MaxVoltageUnbalancePct: analysis.Round(quality.MaxVoltageUnbalancePct, p.Percent),
		MaxCurrentUnbalancePct: analysis.Round(quality.MaxCurrentUnbalancePct, p.Percent),
		MaxVoltageTHDPct:       analysis.Round(quality.MaxVoltageTHDPct, p.Percent),
		MaxCurrentTHDPct:       analysis.Round(quality.MaxCurrentTHDPct, p.Percent),
		MaxCurrentTDDPct:       analysis.Round(quality.MaxCurrentTDDPct, p.Percent),

		MeasurementCount: len(sorted),
	}
	if len(sorted) > 0 {
		rec.LastMeasurementTimestamp = sorted[len(sorted)-1].Timestamp.UTC()
	}
	return rec
}

// classify makes sure err carries sentinel so callers can tell transient failures apart.
func classify(err, sentinel error) error {
	if errors.Is(err, sentinel) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func classifyStore(err error) error {
	if errors.Is(err, ErrStaleWrite) {
		return err
	}
	return classify(err, ErrStoreUnavailable)
}
