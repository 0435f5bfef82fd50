package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// measurementRow keeps the raw point map as JSON so that parsing stays at read time.
type measurementRow struct {
	ID        uint           `gorm:"primaryKey"`
	DeviceID  string         `gorm:"size:64;not null;uniqueIndex:idx_measurement_device_ts"`
	Timestamp time.Time      `gorm:"not null;uniqueIndex:idx_measurement_device_ts"`
	Points    map[string]any `gorm:"serializer:json"`
}

func (measurementRow) TableName() string {
	return "measurements"
}

// InsertMeasurements stores raw measurements. A measurement whose (device, timestamp) is already
// stored is ignored. It returns the number of new rows.
func (s *Store) InsertMeasurements(ctx context.Context, raws []model.RawMeasurement) (int64, error) {
	if len(raws) == 0 {
		return 0, nil
	}
	rows := make([]measurementRow, len(raws))
	for i, r := range raws {
		rows[i] = measurementRow{
			DeviceID:  r.DeviceID,
			Timestamp: r.Timestamp.UTC(),
			Points:    r.Readings,
		}
	}
	res := s.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, fmt.Errorf("insert measurements: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Fetch implements indicator.MeasurementRepository.
func (s *Store) Fetch(ctx context.Context, deviceID string, window model.TimeRange) ([]model.Measurement, error) {
	var rows []measurementRow
	err := s.conn(ctx).
		Where("device_id = ? AND timestamp >= ? AND timestamp <= ?", deviceID, window.Start.UTC(), window.End.UTC()).
		Order("timestamp").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", indicator.ErrRepositoryUnavailable, err)
	}

	out := make([]model.Measurement, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.RawMeasurement{
			DeviceID:  r.DeviceID,
			Timestamp: r.Timestamp,
			Readings:  r.Points,
		}.Measurement())
	}
	return out, nil
}
