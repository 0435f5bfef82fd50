// Package queue connects the indicator runner to an external scheduler through Kafka.
// The scheduler (or the CLI) publishes Job messages; the Consumer executes them.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// Kind selects the runner operation of a job.
type Kind string

const (
	KindDaily      Kind = "daily"
	KindMonthly    Kind = "monthly"
	KindDailyRange Kind = "daily_range"
	KindBackfill   Kind = "backfill"
)

// Job is the message payload. Dates use the YYYY-MM-DD layout.
//
//	{"id": "...", "kind": "daily", "device_id": "M-001", "date": "2024-06-01"}
//	{"id": "...", "kind": "monthly", "device_id": "M-001", "year": 2024, "month": 6}
//	{"id": "...", "kind": "daily_range", "institution_id": "I-1", "start_date": "2024-06-01", "end_date": "2024-06-30"}
type Job struct {
	ID            string `json:"id"`
	Kind          Kind   `json:"kind"`
	DeviceID      string `json:"device_id,omitempty"`
	InstitutionID string `json:"institution_id,omitempty"`
	Date          string `json:"date,omitempty"`
	Year          int    `json:"year,omitempty"`
	Month         int    `json:"month,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
}

// DailyJob builds a single-day job with a fresh ID.
func DailyJob(deviceID string, date time.Time) Job {
	return Job{ID: uuid.NewString(), Kind: KindDaily, DeviceID: deviceID, Date: date.Format(model.DateLayout)}
}

// MonthlyJob builds a monthly rollup job with a fresh ID.
func MonthlyJob(deviceID string, year int, month time.Month) Job {
	return Job{ID: uuid.NewString(), Kind: KindMonthly, DeviceID: deviceID, Year: year, Month: int(month)}
}

// RangeJob builds a daily_range job, or a backfill job when backfill is set.
func RangeJob(target indicator.Target, start, end time.Time, backfill bool) Job {
	kind := KindDailyRange
	if backfill {
		kind = KindBackfill
	}
	return Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		DeviceID:      target.DeviceID,
		InstitutionID: target.InstitutionID,
		StartDate:     start.Format(model.DateLayout),
		EndDate:       end.Format(model.DateLayout),
	}
}

// DecodeJob parses and validates a message value. Unknown fields are ignored.
func DecodeJob(raw []byte) (Job, error) {
	var j Job
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&j); err != nil {
		return Job{}, fmt.Errorf("decode job payload: %w", err)
	}
	j.DeviceID = strings.TrimSpace(j.DeviceID)
	j.InstitutionID = strings.TrimSpace(j.InstitutionID)
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Validate checks that the fields required by the job kind are present and well formed.
func (j Job) Validate() error {
	switch j.Kind {
	case KindDaily:
		if j.DeviceID == "" {
			return errors.New("daily job requires device_id")
		}
		_, err := parseDate("date", j.Date)
		return err
	case KindMonthly:
		if j.DeviceID == "" {
			return errors.New("monthly job requires device_id")
		}
		if j.Year < 1 || j.Month < 1 || j.Month > 12 {
			return fmt.Errorf("monthly job requires year and month 1-12 (got %d-%d)", j.Year, j.Month)
		}
		return nil
	case KindDailyRange, KindBackfill:
		start, err := parseDate("start_date", j.StartDate)
		if err != nil {
			return err
		}
		end, err := parseDate("end_date", j.EndDate)
		if err != nil {
			return err
		}
		if end.Before(start) {
			return indicator.ErrInvalidRange
		}
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

func (j Job) target() indicator.Target {
	return indicator.Target{DeviceID: j.DeviceID, InstitutionID: j.InstitutionID}
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q (expected YYYY-MM-DD)", field, v)
	}
	return t, nil
}

// Runner is the part of indicator.Runner the queue drives.
type Runner interface {
	ComputeDaily(ctx context.Context, deviceID string, date time.Time) (indicator.JobResult, error)
	ComputeMonthly(ctx context.Context, deviceID string, year int, month time.Month) (indicator.JobResult, error)
	ComputeDailyRange(ctx context.Context, target indicator.Target, start, end time.Time) ([]indicator.JobResult, error)
	Backfill(ctx context.Context, target indicator.Target, start, end time.Time) ([]indicator.JobResult, error)
}

// Execute runs a validated job. For batch kinds the returned error joins the errors of every
// failed item, so indicator.Transient tells whether running the job again may help. Running a
// job again is always safe: every item recomputes from raw data and replaces its record.
func Execute(ctx context.Context, r Runner, j Job) ([]indicator.JobResult, error) {
	switch j.Kind {
	case KindDaily:
		date, _ := parseDate("date", j.Date)
		res, err := r.ComputeDaily(ctx, j.DeviceID, date)
		return []indicator.JobResult{res}, err
	case KindMonthly:
		res, err := r.ComputeMonthly(ctx, j.DeviceID, j.Year, time.Month(j.Month))
		return []indicator.JobResult{res}, err
	case KindDailyRange, KindBackfill:
		start, _ := parseDate("start_date", j.StartDate)
		end, _ := parseDate("end_date", j.EndDate)
		run := r.ComputeDailyRange
		if j.Kind == KindBackfill {
			run = r.Backfill
		}
		results, err := run(ctx, j.target(), start, end)
		if err != nil {
			return results, err
		}
		var errs []error
		for _, res := range results {
			if res.Outcome == indicator.OutcomeFailed && res.Err != nil {
				errs = append(errs, res.Err)
			}
		}
		return results, errors.Join(errs...)
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}
