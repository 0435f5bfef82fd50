package indicator

import (
	"context"
	"errors"
	"time"

	"meter-indicators/internal/model"
)

// MeasurementRepository exposes the raw telemetry of a device.
//
// Fetch returns the measurements with a timestamp inside the inclusive window, ordered by
// timestamp ascending. An empty result is not an error. Transport failures are reported
// wrapping ErrRepositoryUnavailable.
type MeasurementRepository interface {
	Fetch(ctx context.Context, deviceID string, window model.TimeRange) ([]model.Measurement, error)
}

// IndicatorStore persists indicator records, one per Key.
//
// Upsert creates or replaces every field of the record stored under rec.Key in one step.
// Query returns the records of one device and kind with a date in the inclusive
// [from, to] range, ordered by date.
type IndicatorStore interface {
	Upsert(ctx context.Context, rec model.IndicatorRecord) error
	Query(ctx context.Context, deviceID string, from, to time.Time, kind model.PeriodKind) ([]model.IndicatorRecord, error)
}

// DeviceDirectory lists the reference data of every known device.
type DeviceDirectory interface {
	Devices(ctx context.Context) ([]model.Device, error)
}

var (
	// ErrRepositoryUnavailable marks a transient measurement fetch failure. Retry is up to the caller.
	ErrRepositoryUnavailable = errors.New("measurement repository unavailable")
	// ErrStoreUnavailable marks a transient indicator store failure. Retry is up to the caller.
	ErrStoreUnavailable = errors.New("indicator store unavailable")
	// ErrReferenceDataMissing means a device's category or institution could not be resolved.
	ErrReferenceDataMissing = errors.New("device reference data missing")
	// ErrStaleWrite is returned by stores doing conditional writes when a newer record already exists.
	ErrStaleWrite = errors.New("a newer record is already stored")
	// ErrInvalidRange rejects batches whose end precedes their start.
	ErrInvalidRange = errors.New("end date before start date")
)

// Transient reports whether err is worth retrying by the scheduler.
func Transient(err error) bool {
	return errors.Is(err, ErrRepositoryUnavailable) || errors.Is(err, ErrStoreUnavailable)
}
