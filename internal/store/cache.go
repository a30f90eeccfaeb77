package store

import (
	"sync"
	"time"

	"github.com/lanbeam/lanbeam/internal/models"
)

// DefaultCacheTTL bounds how long a discovery snapshot stays readable.
const DefaultCacheTTL = 30 * time.Second

// DeviceCache holds the most recent discovery snapshot. Writes replace
// the whole snapshot rather than merging; readers accumulating devices
// over time merge across reads themselves. A read past the TTL returns
// nothing rather than stale data.
type DeviceCache struct {
	mu      sync.RWMutex
	devices []models.SeenDevice
	wroteAt time.Time
	ttl     time.Duration
}

func NewDeviceCache(ttl time.Duration) *DeviceCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &DeviceCache{ttl: ttl}
}

// Put replaces the cached snapshot and restamps the TTL clock.
func (dc *DeviceCache) Put(devices []models.SeenDevice) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.devices = make([]models.SeenDevice, len(devices))
	copy(dc.devices, devices)
	dc.wroteAt = time.Now()
}

// Get returns the cached snapshot, or nil once the TTL has elapsed.
func (dc *DeviceCache) Get() []models.SeenDevice {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	if dc.devices == nil || time.Since(dc.wroteAt) > dc.ttl {
		return nil
	}

	result := make([]models.SeenDevice, len(dc.devices))
	copy(result, dc.devices)
	return result
}

// Clear drops the snapshot immediately.
func (dc *DeviceCache) Clear() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	dc.devices = nil
	dc.wroteAt = time.Time{}
}
