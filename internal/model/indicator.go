package model

import (
	"fmt"
	"time"
)

// PeriodKind is the granularity of an indicator record.
// Keep these values stable; they are stored and appear in CSV output.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodMonthly PeriodKind = "monthly"
)

func ParsePeriodKind(s string) (PeriodKind, error) {
	switch PeriodKind(s) {
	case PeriodDaily:
		return PeriodDaily, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	default:
		return "", fmt.Errorf("invalid period kind %q, expected daily or monthly", s)
	}
}

// DateLayout is the canonical calendar-date format used in keys, storage and the API.
const DateLayout = "2006-01-02"

// Key identifies exactly one indicator record.
// Date is the day for daily records and the first day of the month for monthly records,
// always at midnight UTC.
type Key struct {
	DeviceID   string
	Date       time.Time
	PeriodKind PeriodKind
}

// NewKey truncates date to its calendar day.
func NewKey(deviceID string, date time.Time, kind PeriodKind) Key {
	return Key{
		DeviceID:   deviceID,
		Date:       CalendarDate(date),
		PeriodKind: kind,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DeviceID, k.Date.Format(DateLayout), k.PeriodKind)
}

// CalendarDate drops the clock and location of t, keeping its calendar day.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IndicatorRecord is the reduced view of one device over one period.
//
// Units:
// - energy: kWh
// - demand: kW
// - *Pct fields: percent
// - power factor: dimensionless
type IndicatorRecord struct {
	Key

	ImportedEnergyKWh float64
	ExportedEnergyKWh float64
	NetEnergyKWh      float64

	PeakDemandKW float64
	AvgDemandKW  float64

	LoadFactorPct  float64
	AvgPowerFactor float64

	MaxVoltageUnbalancePct float64
	MaxCurrentUnbalancePct float64
	MaxVoltageTHDPct       float64
	MaxCurrentTHDPct       float64
	MaxCurrentTDDPct       float64

	MeasurementCount         int
	LastMeasurementTimestamp time.Time
	CalculatedAt             time.Time
}

// SameValues reports whether two records carry identical indicator values,
// ignoring CalculatedAt.
func (r IndicatorRecord) SameValues(o IndicatorRecord) bool {
	return r.Key == o.Key &&
		r.ImportedEnergyKWh == o.ImportedEnergyKWh &&
		r.ExportedEnergyKWh == o.ExportedEnergyKWh &&
		r.NetEnergyKWh == o.NetEnergyKWh &&
		r.PeakDemandKW == o.PeakDemandKW &&
		r.AvgDemandKW == o.AvgDemandKW &&
		r.LoadFactorPct == o.LoadFactorPct &&
		r.AvgPowerFactor == o.AvgPowerFactor &&
		r.MaxVoltageUnbalancePct == o.MaxVoltageUnbalancePct &&
		r.MaxCurrentUnbalancePct == o.MaxCurrentUnbalancePct &&
		r.MaxVoltageTHDPct == o.MaxVoltageTHDPct &&
		r.MaxCurrentTHDPct == o.MaxCurrentTHDPct &&
		r.MaxCurrentTDDPct == o.MaxCurrentTDDPct &&
		r.MeasurementCount == o.MeasurementCount &&
		r.LastMeasurementTimestamp.Equal(o.LastMeasurementTimestamp)
}
