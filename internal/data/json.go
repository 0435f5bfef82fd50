package data

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"meter-indicators/internal/model"
)

// LoadMeasurementsJSON reads a saved telemetry answer ({"data": [...]}) from disk.
func LoadMeasurementsJSON(path string) ([]model.RawMeasurement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var resp measurementsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GroupByDevice splits raw measurements into device-keyed slices, converted and sorted by
// timestamp.
func GroupByDevice(raws []model.RawMeasurement) map[string][]model.Measurement {
	out := map[string][]model.Measurement{}
	for _, r := range raws {
		out[r.DeviceID] = append(out[r.DeviceID], r.Measurement())
	}
	for _, ms := range out {
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].Timestamp.Before(ms[j].Timestamp) })
	}
	return out
}

// FileRepository serves measurements loaded from JSON files. It implements
// indicator.MeasurementRepository and is meant for replays and local runs.
type FileRepository struct {
	byDevice map[string][]model.Measurement
}

func NewFileRepository(raws []model.RawMeasurement) *FileRepository {
	return &FileRepository{byDevice: GroupByDevice(raws)}
}

// LoadFileRepository builds a FileRepository from one or more JSON files.
func LoadFileRepository(paths ...string) (*FileRepository, error) {
	var all []model.RawMeasurement
	for _, p := range paths {
		raws, err := LoadMeasurementsJSON(p)
		if err != nil {
			return nil, err
		}
		all = append(all, raws...)
	}
	return NewFileRepository(all), nil
}

func (r *FileRepository) Fetch(_ context.Context, deviceID string, window model.TimeRange) ([]model.Measurement, error) {
	var out []model.Measurement
	for _, m := range r.byDevice[deviceID] {
		if window.Contains(m.Timestamp) {
			out = append(out, m)
		}
	}
	return out, nil
}
