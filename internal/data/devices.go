package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"meter-indicators/internal/model"
)

// DeviceList is the on-disk device reference file.
type DeviceList struct {
	UpdatedAt string         `json:"updated_at"` // ISO 8601 timestamp
	Devices   []model.Device `json:"devices"`
}

// LoadDevices reads the device reference file. Entries without an id are dropped.
func LoadDevices(filePath string) (*DeviceList, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open devices file: %w", err)
	}
	defer f.Close()

	var list DeviceList
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	list.Devices = lo.Filter(list.Devices, func(d model.Device, _ int) bool { return d.ID != "" })
	return &list, nil
}

// SaveDevices replaces the device reference file. The list is written to a temporary file
// next to the target and renamed over it, so readers never see a partial file.
func SaveDevices(list *DeviceList, filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create devices dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".devices-*.json")
	if err != nil {
		return fmt.Errorf("create temp devices file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %d devices: %w", len(list.Devices), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp devices file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("replace %s: %w", filePath, err)
	}
	return nil
}

// GetDefaultDevicesPath returns DEVICES_FILE or ./data/devices.json.
func GetDefaultDevicesPath() string {
	if path := os.Getenv("DEVICES_FILE"); path != "" {
		return path
	}
	return "./data/devices.json"
}

// FileDirectory implements indicator.DeviceDirectory over the device reference file.
// The file is read on every call; wrap it in a DeviceCache to avoid that.
type FileDirectory struct {
	Path string
}

func (d FileDirectory) Devices(context.Context) ([]model.Device, error) {
	list, err := LoadDevices(d.Path)
	if err != nil {
		return nil, err
	}
	return list.Devices, nil
}
