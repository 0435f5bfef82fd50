package models

import (
	"time"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// IndicatorRecord is the JSON form of one stored record.
type IndicatorRecord struct {
	DeviceID   string `json:"device_id"`
	Date       string `json:"date"`
	PeriodKind string `json:"period_kind"`

	ImportedEnergyKWh float64 `json:"imported_energy_kwh"`
	ExportedEnergyKWh float64 `json:"exported_energy_kwh"`
	NetEnergyKWh      float64 `json:"net_energy_kwh"`

	PeakDemandKW float64 `json:"peak_demand_kw"`
	AvgDemandKW  float64 `json:"avg_demand_kw"`

	LoadFactorPct  float64 `json:"load_factor_pct"`
	AvgPowerFactor float64 `json:"avg_power_factor"`

	MaxVoltageUnbalancePct float64 `json:"max_voltage_unbalance_pct"`
	MaxCurrentUnbalancePct float64 `json:"max_current_unbalance_pct"`
	MaxVoltageTHDPct       float64 `json:"max_voltage_thd_pct"`
	MaxCurrentTHDPct       float64 `json:"max_current_thd_pct"`
	MaxCurrentTDDPct       float64 `json:"max_current_tdd_pct"`

	MeasurementCount         int        `json:"measurement_count"`
	LastMeasurementTimestamp *time.Time `json:"last_measurement_timestamp,omitempty"`
	CalculatedAt             time.Time  `json:"calculated_at"`
}

func NewIndicatorRecord(r model.IndicatorRecord) IndicatorRecord {
	out := IndicatorRecord{
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

		MeasurementCount: r.MeasurementCount,
		CalculatedAt:     r.CalculatedAt.UTC(),
	}
	if !r.LastMeasurementTimestamp.IsZero() {
		ts := r.LastMeasurementTimestamp.UTC()
		out.LastMeasurementTimestamp = &ts
	}
	return out
}

// JobResult reports one (device, date, period kind) job.
type JobResult struct {
	DeviceID   string           `json:"device_id"`
	Date       string           `json:"date"`
	PeriodKind string           `json:"period_kind"`
	Outcome    string           `json:"outcome"` // computed, no_data, skipped, failed
	Reason     string           `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	Record     *IndicatorRecord `json:"record,omitempty"`
}

func NewJobResult(r indicator.JobResult) JobResult {
	out := JobResult{
		DeviceID:   r.Key.DeviceID,
		Date:       r.Key.Date.Format(model.DateLayout),
		PeriodKind: string(r.Key.PeriodKind),
		Outcome:    string(r.Outcome),
		Reason:     string(r.Reason),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.Record != nil {
		rec := NewIndicatorRecord(*r.Record)
		out.Record = &rec
	}
	return out
}

// BatchResponse is returned by range and backfill jobs run inline.
type BatchResponse struct {
	Summary map[string]int `json:"summary"` // outcome -> count
	Results []JobResult    `json:"results"`
}

// QueuedResponse is returned when a job was handed to the queue.
type QueuedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type IndicatorsResponse struct {
	Records []IndicatorRecord `json:"records"`
}

type DevicesResponse struct {
	Devices []model.Device `json:"devices"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
