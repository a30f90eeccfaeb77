package models

import (
	"net"
	"strconv"
	"time"
)

// ProtocolVersion is the wire protocol version spoken by this implementation.
const ProtocolVersion = "2.1"

type DeviceInfo struct {
	Alias       string `json:"alias"`
	Version     string `json:"version"`
	DeviceModel string `json:"deviceModel,omitempty"` // nullable per protocol
	DeviceType  string `json:"deviceType,omitempty"`  // nullable per protocol
	Fingerprint string `json:"fingerprint,omitempty"`
	Download    bool   `json:"download,omitempty"` // optional, default false
}

// Announcement is the discovery datagram: a DeviceInfo plus transport
// coordinates and the announce/response flag. Replies to an announcement
// must carry Announce=false so that replies are never themselves replied to.
type Announcement struct {
	DeviceInfo
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Announce bool   `json:"announce"`
}

func (anno Announcement) GetDeviceInfo() DeviceInfo {
	return anno.DeviceInfo
}

// SeenDevice is an Announcement enriched with what the network told us:
// the source IP the datagram (or register call) came from and when.
type SeenDevice struct {
	Announcement
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"lastSeen"`
}

// Addr returns "ip:port" for dialing the device's HTTP endpoint.
func (sd SeenDevice) Addr() string {
	return joinHostPort(sd.IP, sd.Port)
}

// FavoriteDevice is the persisted subset of a device identity. It is keyed
// by fingerprint, never by IP, since IPs are unstable across sessions.
type FavoriteDevice struct {
	Fingerprint string    `json:"fingerprint"`
	Alias       string    `json:"alias"`
	LastIP      string    `json:"lastIp,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
}

func joinHostPort(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}

func NewDeviceInfo(alias string, fingerprint string) DeviceInfo {
	return DeviceInfo{
		Alias:       alias,
		Version:     ProtocolVersion,
		DeviceModel: "lanbeam",
		DeviceType:  "headless",
		Fingerprint: fingerprint,
		Download:    false,
	}
}
