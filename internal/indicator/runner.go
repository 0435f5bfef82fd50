package indicator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"meter-indicators/internal/model"
)

// Outcome is how one job ended.
type Outcome string

const (
	OutcomeComputed Outcome = "computed"
	OutcomeNoData   Outcome = "no_data"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// SkipReason explains a job that did not produce a record.
type SkipReason string

const (
	ReasonNone                 SkipReason = ""
	ReasonMissingData          SkipReason = "missing_data"
	ReasonReferenceDataMissing SkipReason = "reference_data_missing"
)

// JobResult is the outcome of one (device, date, period kind) job.
type JobResult struct {
	Key     model.Key
	Outcome Outcome
	Reason  SkipReason
	Record  *model.IndicatorRecord
	Err     error
}

// Target selects the devices of a batch. DeviceID wins over InstitutionID; with neither set
// the batch covers every active device in the directory.
type Target struct {
	DeviceID      string
	InstitutionID string
}

func (t Target) String() string {
	switch {
	case t.DeviceID != "":
		return "device:" + t.DeviceID
	case t.InstitutionID != "":
		return "institution:" + t.InstitutionID
	default:
		return "all"
	}
}

// Recorder receives job telemetry. observability.Metrics implements it.
type Recorder interface {
	JobFinished(kind model.PeriodKind, outcome Outcome, elapsed time.Duration)
	DependencyError(dependency string)
}

type nopRecorder struct{}

func (nopRecorder) JobFinished(model.PeriodKind, Outcome, time.Duration) {}
func (nopRecorder) DependencyError(string)                              {}

// RunnerConfig tunes batch execution.
type RunnerConfig struct {
	// Workers bounds how many devices a batch processes concurrently.
	Workers int
	// Categories, when set, restricts directory-driven batches to these device categories.
	Categories []string
}

// Runner is the job invocation surface used by schedulers, the CLI and the HTTP API.
// Every job is independent: it reads its own window and writes its own record.
type Runner struct {
	daily   *DailyBuilder
	monthly *MonthlyBuilder
	devices DeviceDirectory
	cfg     RunnerConfig
	rec     Recorder
	clock   func() time.Time
	log     zerolog.Logger
}

// NewRunner wires the builders. devices may be nil when only explicit device targets are used;
// rec may be nil.
func NewRunner(daily *DailyBuilder, monthly *MonthlyBuilder, devices DeviceDirectory, rec Recorder, cfg RunnerConfig, log zerolog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Runner{
		daily:   daily,
		monthly: monthly,
		devices: devices,
		cfg:     cfg,
		rec:     rec,
		clock:   daily.opts.Clock.Now,
		log:     log.With().Str("component", "runner").Logger(),
	}
}

// ComputeDaily computes the daily record of deviceID for date.
// The returned error is non-nil only for failed jobs; NO_DATA is reported through the result.
func (r *Runner) ComputeDaily(ctx context.Context, deviceID string, date time.Time) (JobResult, error) {
	start := r.clock()
	res, err := r.daily.Build(ctx, deviceID, date)
	jr := r.toJobResult(res, err)
	r.rec.JobFinished(model.PeriodDaily, jr.Outcome, r.clock().Sub(start))
	return jr, err
}

// ComputeMonthly rolls up the daily records of deviceID for year/month.
func (r *Runner) ComputeMonthly(ctx context.Context, deviceID string, year int, month time.Month) (JobResult, error) {
	start := r.clock()
	res, err := r.monthly.Build(ctx, deviceID, year, month)
	jr := r.toJobResult(res, err)
	r.rec.JobFinished(model.PeriodMonthly, jr.Outcome, r.clock().Sub(start))
	return jr, err
}

// ComputeDailyRange enumerates single-day jobs over the inclusive [start, end] range for every
// device of target. A failing day or device never stops the others; the error return is
// reserved for problems that prevent the batch from starting.
func (r *Runner) ComputeDailyRange(ctx context.Context, target Target, start, end time.Time) ([]JobResult, error) {
	return r.run(ctx, target, start, end, false)
}

// Backfill runs the daily jobs of the range first and then one monthly rollup per device and
// month touched by the range.
func (r *Runner) Backfill(ctx context.Context, target Target, start, end time.Time) ([]JobResult, error) {
	return r.run(ctx, target, start, end, true)
}

func (r *Runner) run(ctx context.Context, target Target, start, end time.Time, withMonths bool) ([]JobResult, error) {
	start, end = model.CalendarDate(start), model.CalendarDate(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%s..%s: %w", start.Format(model.DateLayout), end.Format(model.DateLayout), ErrInvalidRange)
	}

	runID := uuid.NewString()
	log := r.log.With().Str("run", runID).Str("target", target.String()).Logger()

	deviceIDs, skipped, err := r.resolve(ctx, target, start)
	if err != nil {
		return nil, err
	}
	log.Info().Int("devices", len(deviceIDs)).Int("skipped", len(skipped)).
		Str("start", start.Format(model.DateLayout)).Str("end", end.Format(model.DateLayout)).
		Bool("monthly", withMonths).
		Msg("batch started")

	var (
		mu      sync.Mutex
		results = append([]JobResult(nil), skipped...)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, id := range deviceIDs {
		id := id
		g.Go(func() error {
			out := r.runDevice(gctx, id, start, end, withMonths)
			mu.Lock()
			results = append(results, out...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sortResults(results)
	counts := lo.CountValuesBy(results, func(jr JobResult) Outcome { return jr.Outcome })
	log.Info().
		Int("computed", counts[OutcomeComputed]).
		Int("no_data", counts[OutcomeNoData]).
		Int("skipped", counts[OutcomeSkipped]).
		Int("failed", counts[OutcomeFailed]).
		Msg("batch finished")
	return results, ctx.Err()
}

func (r *Runner) runDevice(ctx context.Context, deviceID string, start, end time.Time, withMonths bool) []JobResult {
	var out []JobResult
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			return out
		}
		jr, _ := r.ComputeDaily(ctx, deviceID, day)
		out = append(out, jr)
	}
	if !withMonths {
		return out
	}
	for month := now.With(start).BeginningOfMonth(); !month.After(end); month = month.AddDate(0, 1, 0) {
		if ctx.Err() != nil {
			return out
		}
		jr, _ := r.ComputeMonthly(ctx, deviceID, month.Year(), month.Month())
		out = append(out, jr)
	}
	return out
}

// resolve turns a target into device IDs. Devices of a directory-driven batch whose reference
// data is incomplete come back as skipped results.
func (r *Runner) resolve(ctx context.Context, target Target, date time.Time) ([]string, []JobResult, error) {
	if target.DeviceID != "" {
		return []string{target.DeviceID}, nil, nil
	}
	if r.devices == nil {
		return nil, nil, errors.New("no device directory configured for institution batches")
	}
	all, err := r.devices.Devices(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list devices: %w", err)
	}

	var (
		ids     []string
		skipped []JobResult
	)
	for _, d := range all {
		if target.InstitutionID != "" && d.InstitutionID != target.InstitutionID {
			continue
		}
		if !d.Active {
			continue
		}
		if d.Category != "" && len(r.cfg.Categories) > 0 && !lo.Contains(r.cfg.Categories, d.Category) {
			continue
		}
		if !d.Resolved() {
			r.log.Warn().Str("device", d.ID).Msg("device category or institution unresolved, skipping")
			skipped = append(skipped, JobResult{
				Key:     model.NewKey(d.ID, date, model.PeriodDaily),
				Outcome: OutcomeSkipped,
				Reason:  ReasonReferenceDataMissing,
				Err:     fmt.Errorf("device %s: %w", d.ID, ErrReferenceDataMissing),
			})
			continue
		}
		ids = append(ids, d.ID)
	}
	return lo.Uniq(ids), skipped, nil
}

func (r *Runner) toJobResult(res Result, err error) JobResult {
	jr := JobResult{Key: res.Key, Record: res.Record, Err: err}
	switch {
	case err != nil:
		jr.Outcome = OutcomeFailed
		switch {
		case errors.Is(err, ErrRepositoryUnavailable):
			r.rec.DependencyError("repository")
		case errors.Is(err, ErrStoreUnavailable):
			r.rec.DependencyError("store")
		}
		r.log.Error().Err(err).Str("key", res.Key.String()).Msg("job failed")
	case res.State == StateNoData:
		jr.Outcome = OutcomeNoData
		jr.Reason = ReasonMissingData
	default:
		jr.Outcome = OutcomeComputed
	}
	return jr
}

func sortResults(results []JobResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Key, results[j].Key
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		if a.PeriodKind != b.PeriodKind {
			return a.PeriodKind == model.PeriodDaily
		}
		return a.Date.Before(b.Date)
	})
}
