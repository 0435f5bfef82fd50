package data

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/model"
)

// DeviceCache keeps the answer of a DeviceDirectory for ttl. A failed refresh falls back to the
// last good answer when there is one.
type DeviceCache struct {
	source indicator.DeviceDirectory
	ttl    time.Duration
	clock  clock.Clock

	mu        sync.RWMutex
	devices   []model.Device
	expiresAt time.Time
}

func NewDeviceCache(source indicator.DeviceDirectory, ttl time.Duration, clk clock.Clock) *DeviceCache {
	if clk == nil {
		clk = clock.New()
	}
	return &DeviceCache{source: source, ttl: ttl, clock: clk}
}

// Devices implements indicator.DeviceDirectory.
func (c *DeviceCache) Devices(ctx context.Context) ([]model.Device, error) {
	c.mu.RLock()
	if c.devices != nil && c.clock.Now().Before(c.expiresAt) {
		devices := c.devices
		c.mu.RUnlock()
		return devices, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.devices != nil && c.clock.Now().Before(c.expiresAt) {
		return c.devices, nil
	}

	devices, err := c.source.Devices(ctx)
	if err != nil {
		if c.devices != nil {
			return c.devices, nil
		}
		return nil, err
	}
	if devices == nil {
		devices = []model.Device{}
	}
	c.devices = devices
	c.expiresAt = c.clock.Now().Add(c.ttl)
	return devices, nil
}

// Clear forces the next call to hit the source.
func (c *DeviceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = nil
	c.expiresAt = time.Time{}
}
