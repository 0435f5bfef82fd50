package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// indicatorRow is keyed on (device_id, date, period_kind); date is stored as YYYY-MM-DD.
type indicatorRow struct {
	DeviceID   string `gorm:"primaryKey;size:64"`
	Date       string `gorm:"primaryKey;size:10"`
	PeriodKind string `gorm:"primaryKey;size:10"`

	ImportedEnergyKWh float64
	ExportedEnergyKWh float64
	NetEnergyKWh      float64

	PeakDemandKW float64
	AvgDemandKW  float64

	LoadFactorPct  float64
	AvgPowerFactor float64

	MaxVoltageUnbalancePct float64
	MaxCurrentUnbalancePct float64
	MaxVoltageTHDPct       float64 `gorm:"column:max_voltage_thd_pct"`
	MaxCurrentTHDPct       float64 `gorm:"column:max_current_thd_pct"`
	MaxCurrentTDDPct       float64 `gorm:"column:max_current_tdd_pct"`

	MeasurementCount         int
	LastMeasurementTimestamp time.Time
	CalculatedAt             time.Time `gorm:"not null"`
}

func (indicatorRow) TableName() string {
	return "indicator_records"
}

var indicatorKey = []clause.Column{{Name: "device_id"}, {Name: "date"}, {Name: "period_kind"}}

func toIndicatorRow(r model.IndicatorRecord) indicatorRow {
	return indicatorRow{
		DeviceID:   r.DeviceID,
		Date:       r.Date.Format(model.DateLayout),
		PeriodKind: string(r.PeriodKind),

		ImportedEnergyKWh: r.ImportedEnergyKWh,
		ExportedEnergyKWh: r.ExportedEnergyKWh,
		NetEnergyKWh:      r.NetEnergyKWh,

		PeakDemandKW: r.PeakDemandKW,
		AvgDemandKW:  r.AvgDemandKW,

		LoadFactorPct:  r.LoadFactorPct,
		AvgPowerFactor: r.AvgPowerFactor,

		MaxVoltageUnbalancePct: r.MaxVoltageUnbalancePct,
		MaxCurrentUnbalancePct: r.MaxCurrentUnbalancePct,
		MaxVoltageTHDPct:       r.MaxVoltageTHDPct,
		MaxCurrentTHDPct:       r.MaxCurrentTHDPct,
		MaxCurrentTDDPct:       r.MaxCurrentTDDPct,

		MeasurementCount:         r.MeasurementCount,
		LastMeasurementTimestamp: r.LastMeasurementTimestamp.UTC(),
		CalculatedAt:             r.CalculatedAt.UTC(),
	}
}

func (row indicatorRow) record() (model.IndicatorRecord, error) {
	date, err := time.Parse(model.DateLayout, row.Date)
	if err != nil {
		return model.IndicatorRecord{}, fmt.Errorf("stored date %q: %w", row.Date, err)
	}
	kind, err := model.ParsePeriodKind(row.PeriodKind)
	if err != nil {
		return model.IndicatorRecord{}, err
	}
	return model.IndicatorRecord{
		Key: model.Key{DeviceID: row.DeviceID, Date: date, PeriodKind: kind},

		ImportedEnergyKWh: row.ImportedEnergyKWh,
		ExportedEnergyKWh: row.ExportedEnergyKWh,
		NetEnergyKWh:      row.NetEnergyKWh,

		PeakDemandKW: row.PeakDemandKW,
		AvgDemandKW:  row.AvgDemandKW,

		LoadFactorPct:  row.LoadFactorPct,
		AvgPowerFactor: row.AvgPowerFactor,

		MaxVoltageUnbalancePct: row.MaxVoltageUnbalancePct,
		MaxCurrentUnbalancePct: row.MaxCurrentUnbalancePct,
		MaxVoltageTHDPct:       row.MaxVoltageTHDPct,
		MaxCurrentTHDPct:       row.MaxCurrentTHDPct,
		MaxCurrentTDDPct:       row.MaxCurrentTDDPct,

		MeasurementCount:         row.MeasurementCount,
		LastMeasurementTimestamp: row.LastMeasurementTimestamp.UTC(),
		CalculatedAt:             row.CalculatedAt.UTC(),
	}, nil
}

// Upsert implements indicator.IndicatorStore. The insert-or-replace is a single statement, so a
// reader never sees a partially updated record.
func (s *Store) Upsert(ctx context.Context, rec model.IndicatorRecord) error {
	row := toIndicatorRow(rec)

	onConflict := clause.OnConflict{Columns: indicatorKey, UpdateAll: true}
	if s.opts.ConditionalWrites {
		// Timestamps are stored as UTC text of a fixed layout, which orders lexically.
		onConflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "excluded.calculated_at >= indicator_records.calculated_at"},
		}}
	}

	res := s.conn(ctx).Clauses(onConflict).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("%w: %w", indicator.ErrStoreUnavailable, res.Error)
	}
	if s.opts.ConditionalWrites && res.RowsAffected == 0 {
		s.log.Debug().Str("key", rec.Key.String()).Time("calculated_at", rec.CalculatedAt).Msg("newer record kept")
		return indicator.ErrStaleWrite
	}
	return nil
}

// Query implements indicator.IndicatorStore.
func (s *Store) Query(ctx context.Context, deviceID string, from, to time.Time, kind model.PeriodKind) ([]model.IndicatorRecord, error) {
	var rows []indicatorRow
	err := s.conn(ctx).
		Where("device_id = ? AND period_kind = ? AND date >= ? AND date <= ?",
			deviceID, string(kind), from.Format(model.DateLayout), to.Format(model.DateLayout)).
		Order("date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", indicator.ErrStoreUnavailable, err)
	}

	out := make([]model.IndicatorRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
