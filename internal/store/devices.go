package store

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"

	"meter-indicators/internal/model"
)

type deviceRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	Name          string
	Category      string `gorm:"index"`
	InstitutionID string `gorm:"index"`
	Active        bool
}

func (deviceRow) TableName() string {
	return "devices"
}

// Devices implements indicator.DeviceDirectory.
func (s *Store) Devices(ctx context.Context) ([]model.Device, error) {
	var rows []deviceRow
	if err := s.conn(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return lo.Map(rows, func(r deviceRow, _ int) model.Device {
		return model.Device{
			ID:            r.ID,
			Name:          r.Name,
			Category:      r.Category,
			InstitutionID: r.InstitutionID,
			Active:        r.Active,
		}
	}), nil
}

// SaveDevices creates or replaces the given devices. Devices not listed are left untouched.
func (s *Store) SaveDevices(ctx context.Context, devices []model.Device) error {
	if len(devices) == 0 {
		return nil
	}
	rows := lo.Map(devices, func(d model.Device, _ int) deviceRow {
		return deviceRow{
			ID:            d.ID,
			Name:          d.Name,
			Category:      d.Category,
			InstitutionID: d.InstitutionID,
			Active:        d.Active,
		}
	})
	err := s.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save devices: %w", err)
	}
	return nil
}
