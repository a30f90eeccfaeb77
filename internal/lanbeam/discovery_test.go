package lanbeam

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/store"
)

type fakeWriter struct {
	sent  [][]byte
	addrs []*net.UDPAddr
}

func (fw *fakeWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	payload := make([]byte, len(b))
	copy(payload, b)
	fw.sent = append(fw.sent, payload)
	fw.addrs = append(fw.addrs, addr)
	return len(b), nil
}

func newTestDiscovery(t *testing.T) (*Discovery, *store.DeviceCache, identity.Identity) {
	t.Helper()

	ident := identity.New("TestDevice", 53318)
	cache := store.NewDeviceCache(time.Second)

	disc, err := NewDiscovery(ident, cache, "224.0.0.167:53317")
	if err != nil {
		t.Fatalf("new discovery: %v", err)
	}
	return disc, cache, ident
}

func announcementFrom(alias, fingerprint string, announce bool) []byte {
	b, _ := json.Marshal(models.Announcement{
		DeviceInfo: models.NewDeviceInfo(alias, fingerprint),
		Protocol:   "http",
		Port:       53318,
		Announce:   announce,
	})
	return b
}

func remoteAddr(ip string) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: 53317}
}

func TestSelfAnnouncementDiscarded(t *testing.T) {
	disc, cache, ident := newTestDiscovery(t)
	fw := &fakeWriter{}

	disc.handleDatagram(fw, announcementFrom("Me Too", ident.Fingerprint(), true), remoteAddr("192.168.1.5"))

	if len(disc.Devices()) != 0 {
		t.Error("peer set must never contain our own fingerprint")
	}
	if cache.Get() != nil {
		t.Error("self announcement must not touch the cache")
	}
	if len(fw.sent) != 0 {
		t.Error("self announcement must not be replied to")
	}
}

func TestAnnouncementGetsUnicastReply(t *testing.T) {
	disc, cache, _ := newTestDiscovery(t)
	fw := &fakeWriter{}
	remote := remoteAddr("192.168.1.5")

	disc.handleDatagram(fw, announcementFrom("Peer", "fp-peer", true), remote)

	devices := disc.Devices()
	if len(devices) != 1 || devices[0].Fingerprint != "fp-peer" {
		t.Fatalf("expected one peer fp-peer, got %+v", devices)
	}
	if devices[0].IP != "192.168.1.5" {
		t.Errorf("peer IP = %q; want source address", devices[0].IP)
	}

	if cached := cache.Get(); len(cached) != 1 {
		t.Errorf("expected the snapshot in the cache, got %+v", cached)
	}

	if len(fw.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(fw.sent))
	}
	if fw.addrs[0] != remote {
		t.Error("reply must target the announcer's source address")
	}

	var reply models.Announcement
	if err := json.Unmarshal(fw.sent[0], &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Announce {
		t.Error("replies must carry announce=false to break the loop")
	}
}

func TestResponseIsNotRepliedTo(t *testing.T) {
	disc, _, _ := newTestDiscovery(t)
	fw := &fakeWriter{}

	disc.handleDatagram(fw, announcementFrom("Peer", "fp-peer", false), remoteAddr("192.168.1.5"))

	if len(disc.Devices()) != 1 {
		t.Error("responses still register the peer")
	}
	if len(fw.sent) != 0 {
		t.Error("responses must not trigger further replies")
	}
}

func TestMalformedPayloadDiscarded(t *testing.T) {
	disc, cache, _ := newTestDiscovery(t)
	fw := &fakeWriter{}

	disc.handleDatagram(fw, []byte("{not json"), remoteAddr("192.168.1.5"))

	if len(disc.Devices()) != 0 || cache.Get() != nil || len(fw.sent) != 0 {
		t.Error("malformed payloads must cause no state change")
	}
}

func TestTolerantParseIgnoresUnknownFields(t *testing.T) {
	disc, _, _ := newTestDiscovery(t)
	fw := &fakeWriter{}

	payload := []byte(`{"alias":"Peer","fingerprint":"fp-peer","port":53318,"protocol":"http","announce":false,"somethingNew":{"nested":true}}`)
	disc.handleDatagram(fw, payload, remoteAddr("192.168.1.5"))

	devices := disc.Devices()
	if len(devices) != 1 || devices[0].Alias != "Peer" {
		t.Fatalf("expected unknown fields to be ignored, got %+v", devices)
	}
}

func TestRegisterPeer(t *testing.T) {
	disc, cache, ident := newTestDiscovery(t)

	disc.RegisterPeer(net.ParseIP("192.168.1.7"), models.Announcement{
		DeviceInfo: models.NewDeviceInfo("Registered", "fp-reg"),
		Protocol:   "http",
		Port:       53318,
	})
	// self registration is discarded like any other self message
	disc.RegisterPeer(net.ParseIP("192.168.1.8"), models.Announcement{
		DeviceInfo: ident.Info(),
	})

	devices := disc.Devices()
	if len(devices) != 1 || devices[0].Fingerprint != "fp-reg" {
		t.Fatalf("expected only fp-reg, got %+v", devices)
	}
	if len(cache.Get()) != 1 {
		t.Error("register must refresh the cache snapshot")
	}
}

func TestPeerUpsertByFingerprint(t *testing.T) {
	disc, _, _ := newTestDiscovery(t)
	fw := &fakeWriter{}

	disc.handleDatagram(fw, announcementFrom("Peer", "fp-peer", false), remoteAddr("192.168.1.5"))
	disc.handleDatagram(fw, announcementFrom("Peer Renamed", "fp-peer", false), remoteAddr("192.168.1.9"))

	devices := disc.Devices()
	if len(devices) != 1 {
		t.Fatalf("same fingerprint must upsert, got %d peers", len(devices))
	}
	if devices[0].Alias != "Peer Renamed" || devices[0].IP != "192.168.1.9" {
		t.Errorf("expected the latest sighting to win, got %+v", devices[0])
	}
}

func TestExpiredPeersArePruned(t *testing.T) {
	disc, _, _ := newTestDiscovery(t)
	disc.peerTTL = 20 * time.Millisecond
	fw := &fakeWriter{}

	disc.handleDatagram(fw, announcementFrom("Old Peer", "fp-old", false), remoteAddr("192.168.1.5"))
	time.Sleep(30 * time.Millisecond)
	disc.handleDatagram(fw, announcementFrom("New Peer", "fp-new", false), remoteAddr("192.168.1.6"))

	disc.seenMu.RLock()
	defer disc.seenMu.RUnlock()
	if len(disc.seen) != 1 {
		t.Fatalf("seen map holds %d peers; expired entries must be dropped", len(disc.seen))
	}
	if _, ok := disc.seen["fp-new"]; !ok {
		t.Error("the fresh peer must survive the prune")
	}
}

func TestRegisterPeerKeepsIPv6Source(t *testing.T) {
	disc, _, _ := newTestDiscovery(t)

	disc.RegisterPeer(net.ParseIP("fe80::1"), models.Announcement{
		DeviceInfo: models.NewDeviceInfo("V6 Peer", "fp-v6"),
		Protocol:   "http",
		Port:       53318,
	})

	devices := disc.Devices()
	if len(devices) != 1 {
		t.Fatalf("expected one peer, got %d", len(devices))
	}
	if devices[0].IP != "fe80::1" {
		t.Errorf("peer IP = %q; want the literal source address", devices[0].IP)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	disc, _, _ := newTestDiscovery(t)

	if err := disc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// second start is a no-op
	if err := disc.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}

	disc.Stop()
	// stopping twice is harmless
	disc.Stop()

	if disc.Status().Running {
		t.Error("stopped service must not report running")
	}
}

func TestStatusCarriesIdentity(t *testing.T) {
	disc, _, ident := newTestDiscovery(t)

	status := disc.Status()
	if status.Running {
		t.Error("not started yet")
	}
	if status.Info.Fingerprint != ident.Fingerprint() {
		t.Error("status must carry the local identity")
	}
}
