package model

import "time"

// Measurement is one point-in-time meter sample as delivered by the telemetry store.
// Raw point maps are converted to a typed Reading on the way in (see ParseReading),
// so nothing downstream ever looks up a point name.
type Measurement struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Reading   Reading   `json:"-"`
}

// RawMeasurement matches the JSON shape served by the telemetry API and used by fixture files.
//
// Example:
//
//	{
//	  "device_id": "M-001",
//	  "timestamp": "2024-06-01T00:15:00Z",
//	  "readings": {"importedActivePowerLow": 1000.5, "totalActivePower": 8.2}
//	}
type RawMeasurement struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Readings  map[string]any `json:"readings"`
}

// Measurement converts the raw payload, normalizing the timestamp to UTC.
func (r RawMeasurement) Measurement() Measurement {
	return Measurement{
		DeviceID:  r.DeviceID,
		Timestamp: r.Timestamp.UTC(),
		Reading:   ParseReading(r.Readings),
	}
}

// TimeRange is an inclusive [Start, End] window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}
