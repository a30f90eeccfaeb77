package lanbeam

import (
	"encoding/json"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/lanbeam/constants"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/store"
	"github.com/lanbeam/lanbeam/internal/utils"
)

type DiscoveryState int

const (
	StateStopped DiscoveryState = iota
	StateStarting
	StateRunning
)

func (s DiscoveryState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// DiscoveryStatus is a point-in-time snapshot of the service.
type DiscoveryStatus struct {
	Running  bool              `json:"running"`
	LocalIPs []string          `json:"localIps"`
	Info     models.DeviceInfo `json:"info"`
}

type udpWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Discovery announces the local identity over multicast UDP and tracks
// peers as they are seen, pushing wholesale snapshots into the device
// cache. A socket error tears everything down and rebinds after a
// fixed delay for as long as the service is supposed to be running.
type Discovery struct {
	identity identity.Identity
	cache    *store.DeviceCache
	group    *net.UDPAddr
	peerTTL  time.Duration

	mu        sync.Mutex
	state     DiscoveryState
	shouldRun bool
	conn      *net.UDPConn
	done      chan struct{}

	seenMu sync.RWMutex
	seen   map[string]models.SeenDevice

	ipMu        sync.Mutex
	cachedIPs   []string
	ipCacheTime time.Time
}

func NewDiscovery(ident identity.Identity, cache *store.DeviceCache, multicastAddr string) (*Discovery, error) {
	group, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, err
	}

	return &Discovery{
		identity: ident,
		cache:    cache,
		group:    group,
		peerTTL:  store.DefaultCacheTTL,
		seen:     make(map[string]models.SeenDevice),
	}, nil
}

// Start brings the service up. Calling Start while it is already
// running is a no-op.
func (d *Discovery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shouldRun {
		return nil
	}
	d.shouldRun = true
	d.state = StateStarting
	d.done = make(chan struct{})

	go d.run(d.done)
	return nil
}

// Stop tears the service down. A stopped service performs no further
// network activity; any pending restart is abandoned.
func (d *Discovery) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.shouldRun {
		return
	}
	d.shouldRun = false
	d.state = StateStopped
	close(d.done)

	// Close the socket to unblock the read loop.
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *Discovery) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shouldRun
}

func (d *Discovery) run(done chan struct{}) {
	for d.running() {
		err := d.serve(done)
		if err == nil || !d.running() {
			return
		}

		slog.Warn("Discovery socket error, restarting", "error", err, "delay", constants.DiscoveryRestartDelay)

		select {
		case <-done:
			return
		case <-time.After(constants.DiscoveryRestartDelay):
		}
	}
}

// serve binds the socket and blocks until stop or a socket error.
func (d *Discovery) serve(done chan struct{}) error {
	conn, err := d.listen()
	if err != nil {
		return err
	}

	d.mu.Lock()
	if !d.shouldRun {
		d.mu.Unlock()
		conn.Close()
		return nil
	}
	d.conn = conn
	d.state = StateRunning
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		if d.shouldRun {
			d.state = StateStarting
		}
		d.mu.Unlock()
		conn.Close()
	}()

	errCh := make(chan error, 1)
	go d.readLoop(conn, errCh)

	// let peers know right away, then keep announcing
	d.announce(conn)

	ticker := time.NewTicker(constants.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			d.announce(conn)
		}
	}
}

func (d *Discovery) listen() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: d.group.Port})
	if err != nil {
		return nil, err
	}

	pc := ipv4.NewPacketConn(conn)
	groupAddr := &net.UDPAddr{IP: d.group.IP}

	joined := 0
	intfs, err := net.Interfaces()
	if err == nil {
		for i := range intfs {
			intf := intfs[i]
			if intf.Flags&net.FlagUp == 0 || intf.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := pc.JoinGroup(&intf, groupAddr); err == nil {
				joined++
			}
		}
	}
	if joined == 0 {
		// let the kernel pick an interface
		if err := pc.JoinGroup(nil, groupAddr); err != nil {
			conn.Close()
			return nil, err
		}
	}

	pc.SetMulticastTTL(4)
	conn.SetReadBuffer(4096)

	return conn, nil
}

// announce is fire-and-continue: send errors are logged and ignored so
// a flaky interface cannot stall the timer loop.
func (d *Discovery) announce(conn udpWriter) {
	b, err := json.Marshal(d.identity.Announcement(true))
	if err != nil {
		slog.Warn("Fail to encode announcement", "error", err)
		return
	}

	if _, err := conn.WriteToUDP(b, d.group); err != nil {
		slog.Warn("Fail to send announcement", "error", err)
	}
}

func (d *Discovery) readLoop(conn *net.UDPConn, errCh chan<- error) {
	buf := make([]byte, 4096)

	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !d.running() {
				return
			}
			errCh <- err
			return
		}

		d.handleDatagram(conn, buf[:n], remote)
	}
}

// handleDatagram processes one discovery payload. Malformed payloads
// and our own announcements are discarded; announce messages get a
// unicast response so the announcer learns about us without another
// broadcast round (responses carry announce=false, which breaks the
// reply loop).
func (d *Discovery) handleDatagram(conn udpWriter, payload []byte, remote *net.UDPAddr) {
	var anno models.Announcement
	if err := json.Unmarshal(payload, &anno); err != nil {
		slog.Debug("Discard malformed discovery payload", "remote", remote.IP, "error", err)
		return
	}

	if anno.Fingerprint == d.identity.Fingerprint() {
		return
	}

	d.recordPeer(remote.IP, anno)

	if anno.Announce {
		b, err := json.Marshal(d.identity.Announcement(false))
		if err != nil {
			return
		}
		if _, err := conn.WriteToUDP(b, remote); err != nil {
			slog.Debug("Fail to reply to announcement", "remote", remote.IP, "error", err)
		}
	}
}

// RegisterPeer records a device learned outside the UDP path, such as
// an HTTP register call.
func (d *Discovery) RegisterPeer(ip net.IP, anno models.Announcement) {
	if anno.Fingerprint == d.identity.Fingerprint() {
		return
	}
	d.recordPeer(ip, anno)
}

func (d *Discovery) recordPeer(ip net.IP, anno models.Announcement) {
	key := anno.Fingerprint
	if key == "" {
		key = ip.String()
	}

	addr := ip.String()
	if v4 := ip.To4(); v4 != nil {
		addr = v4.String()
	}

	d.seenMu.Lock()
	// drop peers already past the TTL so the map cannot grow without
	// bound in a long-running receiver
	now := time.Now()
	for k, dev := range d.seen {
		if now.Sub(dev.LastSeen) >= d.peerTTL {
			delete(d.seen, k)
		}
	}
	d.seen[key] = models.SeenDevice{
		Announcement: anno,
		IP:           addr,
		LastSeen:     now,
	}
	snapshot := d.snapshotLocked()
	d.seenMu.Unlock()

	if d.cache != nil {
		d.cache.Put(snapshot)
	}
}

func (d *Discovery) snapshotLocked() []models.SeenDevice {
	now := time.Now()
	devices := make([]models.SeenDevice, 0, len(d.seen))
	for _, dev := range d.seen {
		if now.Sub(dev.LastSeen) < d.peerTTL {
			devices = append(devices, dev)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Alias < devices[j].Alias
	})
	return devices
}

// Devices returns every peer seen within the TTL window.
func (d *Discovery) Devices() []models.SeenDevice {
	d.seenMu.RLock()
	defer d.seenMu.RUnlock()
	return d.snapshotLocked()
}

// Status reports whether the service is running alongside the local
// addresses and identity. The IP list survives transient enumeration
// failures: the last good result is served instead of an empty one.
func (d *Discovery) Status() DiscoveryStatus {
	d.mu.Lock()
	running := d.state == StateRunning
	d.mu.Unlock()

	return DiscoveryStatus{
		Running:  running,
		LocalIPs: d.localIPs(),
		Info:     d.identity.Info(),
	}
}

func (d *Discovery) localIPs() []string {
	d.ipMu.Lock()
	defer d.ipMu.Unlock()

	if d.cachedIPs != nil && time.Since(d.ipCacheTime) < 30*time.Second {
		return d.cachedIPs
	}

	ips, err := utils.GetMyIPv4Addr()
	if err != nil || len(ips) == 0 {
		return d.cachedIPs
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	d.cachedIPs = addrs
	d.ipCacheTime = time.Now()

	return d.cachedIPs
}
