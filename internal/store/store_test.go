package store

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Logger = zerolog.Nop()
	s, err := Open(":memory:", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(deviceID string, date time.Time, kind model.PeriodKind, imported float64, calculatedAt time.Time) model.IndicatorRecord {
	return model.IndicatorRecord{
		Key:                      model.NewKey(deviceID, date, kind),
		ImportedEnergyKWh:        imported,
		NetEnergyKWh:             imported,
		PeakDemandKW:             25,
		AvgDemandKW:              10,
		LoadFactorPct:            83.33,
		AvgPowerFactor:           0.95,
		MaxVoltageUnbalancePct:   3.82,
		MaxCurrentTHDPct:         7.5,
		MeasurementCount:         96,
		LastMeasurementTimestamp: date.Add(23*time.Hour + 45*time.Minute),
		CalculatedAt:             calculatedAt,
	}
}

func TestUpsertAndQuery(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	rec := record("M-1", day, model.PeriodDaily, 500, day.Add(25*time.Hour))
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Query(ctx, "M-1", day, day, model.PeriodDaily)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, rec.SameValues(got[0]))
	assert.True(t, rec.CalculatedAt.Equal(got[0].CalculatedAt))
}

func TestUpsertReplacesExistingRecord(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, record("M-1", day, model.PeriodDaily, 500, day.Add(25*time.Hour))))
	require.NoError(t, s.Upsert(ctx, record("M-1", day, model.PeriodDaily, 650, day.Add(26*time.Hour))))

	got, err := s.Query(ctx, "M-1", day, day, model.PeriodDaily)
	require.NoError(t, err)
	require.Len(t, got, 1, "one record per key")
	assert.Equal(t, 650.0, got[0].ImportedEnergyKWh)
}

func TestConditionalWriteKeepsNewerRecord(t *testing.T) {
	s := openTestStore(t, Options{ConditionalWrites: true})
	ctx := context.Background()

	newer := record("M-1", day, model.PeriodDaily, 650, day.Add(26*time.Hour))
	older := record("M-1", day, model.PeriodDaily, 500, day.Add(25*time.Hour))

	require.NoError(t, s.Upsert(ctx, newer))
	assert.ErrorIs(t, s.Upsert(ctx, older), indicator.ErrStaleWrite)

	got, err := s.Query(ctx, "M-1", day, day, model.PeriodDaily)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 650.0, got[0].ImportedEnergyKWh)

	newest := record("M-1", day, model.PeriodDaily, 700, day.Add(27*time.Hour))
	require.NoError(t, s.Upsert(ctx, newest))
	got, err = s.Query(ctx, "M-1", day, day, model.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, 700.0, got[0].ImportedEnergyKWh)
}

func TestQueryFiltersAndOrders(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()
	calc := day.AddDate(0, 1, 0)

	for _, d := range []int{2, 0, 1, 5} {
		require.NoError(t, s.Upsert(ctx, record("M-1", day.AddDate(0, 0, d), model.PeriodDaily, float64(d), calc)))
	}
	require.NoError(t, s.Upsert(ctx, record("M-2", day, model.PeriodDaily, 9, calc)))
	require.NoError(t, s.Upsert(ctx, record("M-1", day, model.PeriodMonthly, 9, calc)))

	got, err := s.Query(ctx, "M-1", day, day.AddDate(0, 0, 2), model.PeriodDaily)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, day.AddDate(0, 0, i), r.Date)
		assert.Equal(t, model.PeriodDaily, r.PeriodKind)
	}
}

func raw(deviceID string, ts time.Time, points map[string]any) model.RawMeasurement {
	return model.RawMeasurement{DeviceID: deviceID, Timestamp: ts, Readings: points}
}

func TestInsertAndFetchMeasurements(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	n, err := s.InsertMeasurements(ctx, []model.RawMeasurement{
		raw("M-1", day.Add(2*time.Hour), map[string]any{model.PointImportedActivePowerLow: 1200.0}),
		raw("M-1", day, map[string]any{model.PointImportedActivePowerLow: 1000.0}),
		raw("M-1", day.Add(24*time.Hour), map[string]any{model.PointImportedActivePowerLow: 1600.0}),
		raw("M-2", day.Add(time.Hour), map[string]any{model.PointImportedActivePowerLow: 1.0}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	// duplicates are ignored
	_, err = s.InsertMeasurements(ctx, []model.RawMeasurement{
		raw("M-1", day, map[string]any{model.PointImportedActivePowerLow: 1.0}),
	})
	require.NoError(t, err)

	got, err := s.Fetch(ctx, "M-1", model.TimeRange{Start: day, End: day.Add(24*time.Hour - time.Nanosecond)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day, got[0].Timestamp)
	assert.Equal(t, 1000.0, got[0].Reading.Imported.Low)
	assert.Equal(t, 1200.0, got[1].Reading.Imported.Low)
}

func TestDailyBuildAgainstStore(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	points := func(imported, demand, power float64) map[string]any {
		return map[string]any{
			model.PointImportedActivePowerLow: imported,
			model.PointMaxActivePowerDemand:   demand,
			model.PointTotalActivePower:       power,
		}
	}
	_, err := s.InsertMeasurements(ctx, []model.RawMeasurement{
		raw("M-1", day, points(1000, 20, 8)),
		raw("M-1", day.Add(8*time.Hour), points(1200, 25, 10)),
		raw("M-1", day.Add(16*time.Hour), points(1500, 22, 12)),
	})
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(day.Add(25 * time.Hour))
	b := indicator.NewDailyBuilder(s, s, indicator.Options{Clock: clk, Logger: zerolog.Nop()})

	res, err := b.Build(ctx, "M-1", day)
	require.NoError(t, err)
	require.Equal(t, indicator.StateComputed, res.State)

	got, err := s.Query(ctx, "M-1", day, day, model.PeriodDaily)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 500.0, got[0].ImportedEnergyKWh)
	assert.Equal(t, 25.0, got[0].PeakDemandKW)
	assert.Equal(t, 10.0, got[0].AvgDemandKW)
	assert.Equal(t, 83.33, got[0].LoadFactorPct)
}

func TestDevices(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.SaveDevices(ctx, []model.Device{
		{ID: "M-2", Name: "Library", Category: "campus", InstitutionID: "I-1", Active: true},
		{ID: "M-1", Name: "Lab", Category: "", InstitutionID: "I-1", Active: true},
	}))
	require.NoError(t, s.SaveDevices(ctx, []model.Device{
		{ID: "M-2", Name: "Library", Category: "campus", InstitutionID: "I-1", Active: false},
	}))

	devices, err := s.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "M-1", devices[0].ID)
	assert.False(t, devices[0].Resolved())
	assert.False(t, devices[1].Active)
}
