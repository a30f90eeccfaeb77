package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"

	"github.com/lanbeam/lanbeam/internal/models"
)

const fingerprintLen = 32

// Identity is the local node's stable identity, computed once at
// construction. Repeated calls within one run return the same values
// even if network interfaces change afterwards.
type Identity struct {
	info models.DeviceInfo
	port int
}

func New(alias string, port int) Identity {
	return Identity{
		info: models.NewDeviceInfo(alias, Fingerprint()),
		port: port,
	}
}

func (id Identity) Info() models.DeviceInfo {
	return id.info
}

func (id Identity) Port() int {
	return id.port
}

func (id Identity) Fingerprint() string {
	return id.info.Fingerprint
}

// Announcement builds the discovery datagram for this identity.
func (id Identity) Announcement(announce bool) models.Announcement {
	return models.Announcement{
		DeviceInfo: id.info,
		Protocol:   "http",
		Port:       id.port,
		Announce:   announce,
	}
}

// Fingerprint derives a stable device fingerprint from the first usable
// hardware address plus the hostname, hashed and truncated.
func Fingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	seed := firstHardwareAddr()
	if seed == "" {
		seed = hostname
	}

	sum := sha256.Sum256([]byte(seed + hostname))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// firstHardwareAddr returns the MAC of the first non-loopback interface
// carrying a non-zero hardware address, or "" when none qualifies.
func firstHardwareAddr() string {
	intfs, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, intf := range intfs {
		if intf.Flags&net.FlagLoopback != 0 {
			continue
		}
		hw := intf.HardwareAddr
		if len(hw) == 0 || bytes.Equal(hw, make([]byte, len(hw))) {
			continue
		}
		return hw.String()
	}
	return ""
}
