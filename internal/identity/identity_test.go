package identity

import (
	"testing"
)

func TestFingerprintStable(t *testing.T) {
	first := Fingerprint()
	second := Fingerprint()

	if first == "" {
		t.Fatal("fingerprint should not be empty")
	}
	if first != second {
		t.Errorf("fingerprint not stable: %q vs %q", first, second)
	}
	if len(first) != fingerprintLen {
		t.Errorf("fingerprint length = %d; want %d", len(first), fingerprintLen)
	}
}

func TestIdentityFixedAtConstruction(t *testing.T) {
	id := New("TestDevice", 53318)

	if id.Info().Alias != "TestDevice" {
		t.Errorf("alias = %q; want TestDevice", id.Info().Alias)
	}
	if id.Port() != 53318 {
		t.Errorf("port = %d; want 53318", id.Port())
	}
	if id.Fingerprint() != id.Info().Fingerprint {
		t.Error("Fingerprint() should match Info().Fingerprint")
	}

	// repeated reads return the same value
	if id.Fingerprint() != id.Fingerprint() {
		t.Error("fingerprint changed between calls")
	}
}

func TestAnnouncementFlags(t *testing.T) {
	id := New("TestDevice", 53318)

	anno := id.Announcement(true)
	if !anno.Announce {
		t.Error("expected announce=true")
	}
	if anno.Port != 53318 || anno.Protocol != "http" {
		t.Errorf("unexpected transport coordinates: %+v", anno)
	}

	reply := id.Announcement(false)
	if reply.Announce {
		t.Error("responses must carry announce=false")
	}
	if reply.Fingerprint != anno.Fingerprint {
		t.Error("announce and response must share the fingerprint")
	}
}
