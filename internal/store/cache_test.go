package store

import (
	"testing"
	"time"

	"github.com/lanbeam/lanbeam/internal/models"
)

func seenDevice(alias, fingerprint string) models.SeenDevice {
	return models.SeenDevice{
		Announcement: models.Announcement{
			DeviceInfo: models.NewDeviceInfo(alias, fingerprint),
			Protocol:   "http",
			Port:       53318,
		},
		IP:       "192.168.1.10",
		LastSeen: time.Now(),
	}
}

func TestCacheReadWithinTTL(t *testing.T) {
	cache := NewDeviceCache(time.Second)
	cache.Put([]models.SeenDevice{seenDevice("A", "fp-a")})

	devices := cache.Get()
	if len(devices) != 1 || devices[0].Alias != "A" {
		t.Fatalf("expected one device A, got %+v", devices)
	}
}

func TestCacheExpiry(t *testing.T) {
	cache := NewDeviceCache(50 * time.Millisecond)
	cache.Put([]models.SeenDevice{seenDevice("A", "fp-a")})

	time.Sleep(80 * time.Millisecond)

	if devices := cache.Get(); devices != nil {
		t.Fatalf("expected nil past TTL, got %+v", devices)
	}
}

func TestCacheWholesaleReplace(t *testing.T) {
	cache := NewDeviceCache(time.Second)
	cache.Put([]models.SeenDevice{seenDevice("A", "fp-a"), seenDevice("B", "fp-b")})
	cache.Put([]models.SeenDevice{seenDevice("C", "fp-c")})

	devices := cache.Get()
	if len(devices) != 1 || devices[0].Alias != "C" {
		t.Fatalf("expected snapshot to be replaced, got %+v", devices)
	}
}

func TestCachePutRestampsTTL(t *testing.T) {
	cache := NewDeviceCache(100 * time.Millisecond)
	cache.Put([]models.SeenDevice{seenDevice("A", "fp-a")})

	time.Sleep(60 * time.Millisecond)
	cache.Put([]models.SeenDevice{seenDevice("A", "fp-a")})
	time.Sleep(60 * time.Millisecond)

	// 120ms after the first write but only 60ms after the second
	if devices := cache.Get(); len(devices) != 1 {
		t.Fatal("expected rewrite to restart the TTL clock")
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewDeviceCache(time.Second)
	cache.Put([]models.SeenDevice{seenDevice("A", "fp-a")})
	cache.Clear()

	if devices := cache.Get(); devices != nil {
		t.Fatalf("expected nil after clear, got %+v", devices)
	}
}
