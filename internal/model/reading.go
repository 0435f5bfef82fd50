package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Point names published by the meters.
const (
	PointImportedActivePowerLow  = "importedActivePowerLow"
	PointImportedActivePowerHigh = "importedActivePowerHigh"
	PointExportedActivePowerLow  = "exportedActivePowerLow"
	PointExportedActivePowerHigh = "exportedActivePowerHigh"
	PointMaxActivePowerDemand    = "maxActivePowerDemand"
	PointTotalActivePower        = "totalActivePower"
	PointTotalPowerFactor        = "totalPowerFactor"

	PointVoltagePhaseA = "voltagePhaseA"
	PointVoltagePhaseB = "voltagePhaseB"
	PointVoltagePhaseC = "voltagePhaseC"
	PointCurrentPhaseA = "currentPhaseA"
	PointCurrentPhaseB = "currentPhaseB"
	PointCurrentPhaseC = "currentPhaseC"

	PointVoltageTHDPhaseA = "voltageTHDPhaseA"
	PointVoltageTHDPhaseB = "voltageTHDPhaseB"
	PointVoltageTHDPhaseC = "voltageTHDPhaseC"
	PointCurrentTHDPhaseA = "currentTHDPhaseA"
	PointCurrentTHDPhaseB = "currentTHDPhaseB"
	PointCurrentTHDPhaseC = "currentTHDPhaseC"
	PointCurrentTDDPhaseA = "currentTDDPhaseA"
	PointCurrentTDDPhaseB = "currentTDDPhaseB"
	PointCurrentTDDPhaseC = "currentTDDPhaseC"
)

// Register is a cumulative energy counter split into a low word (kWh) and a high word (MWh).
type Register struct {
	Low  float64
	High float64
}

// KWh combines both words into a single kWh value.
func (r Register) KWh() float64 {
	return r.High*1000 + r.Low
}

// Phases holds one value per phase. Missing phases are 0.
type Phases struct {
	A, B, C float64
}

func (p Phases) Max() float64 {
	return math.Max(math.Max(p.A, p.B), p.C)
}

// Reading is the typed view of one measurement's points.
//
// Units:
// - registers: kWh (low) / MWh (high)
// - demand and power: kW
// - voltages: V, currents: A
// - THD/TDD: percent
//
// Counter, phase and distortion fields default to 0 when the point is absent or non-numeric.
// The instantaneous fields are nil when absent so that analyzers can leave them out of
// maxima and means instead of pulling the result toward 0.
type Reading struct {
	Imported Register
	Exported Register

	MaxActivePowerDemand *float64
	TotalActivePower     *float64
	TotalPowerFactor     *float64

	Voltage Phases
	Current Phases

	VoltageTHD Phases
	CurrentTHD Phases
	CurrentTDD Phases
}

// ParseReading builds a Reading from a raw point map. It never fails: unknown keys are
// ignored and unusable values count as absent.
func ParseReading(points map[string]any) Reading {
	return Reading{
		Imported: Register{
			Low:  numberOrZero(points, PointImportedActivePowerLow),
			High: numberOrZero(points, PointImportedActivePowerHigh),
		},
		Exported: Register{
			Low:  numberOrZero(points, PointExportedActivePowerLow),
			High: numberOrZero(points, PointExportedActivePowerHigh),
		},
		MaxActivePowerDemand: optionalNumber(points, PointMaxActivePowerDemand),
		TotalActivePower:     optionalNumber(points, PointTotalActivePower),
		TotalPowerFactor:     optionalNumber(points, PointTotalPowerFactor),
		Voltage:              phases(points, PointVoltagePhaseA, PointVoltagePhaseB, PointVoltagePhaseC),
		Current:              phases(points, PointCurrentPhaseA, PointCurrentPhaseB, PointCurrentPhaseC),
		VoltageTHD:           phases(points, PointVoltageTHDPhaseA, PointVoltageTHDPhaseB, PointVoltageTHDPhaseC),
		CurrentTHD:           phases(points, PointCurrentTHDPhaseA, PointCurrentTHDPhaseB, PointCurrentTHDPhaseC),
		CurrentTDD:           phases(points, PointCurrentTDDPhaseA, PointCurrentTDDPhaseB, PointCurrentTDDPhaseC),
	}
}

// Float returns a pointer to v. Handy for building readings by hand.
func Float(v float64) *float64 {
	return &v
}

func phases(points map[string]any, a, b, c string) Phases {
	return Phases{
		A: numberOrZero(points, a),
		B: numberOrZero(points, b),
		C: numberOrZero(points, c),
	}
}

func numberOrZero(points map[string]any, key string) float64 {
	if v := optionalNumber(points, key); v != nil {
		return *v
	}
	return 0
}

func optionalNumber(points map[string]any, key string) *float64 {
	raw, ok := points[key]
	if !ok || raw == nil {
		return nil
	}
	v, ok := toFloat(raw)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toFloat(raw any) (float64, bool) {
	switch x := raw.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		v, err := x.Float64()
		return v, err == nil
	case string:
		v, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return v, err == nil
	default:
		return 0, false
	}
}
