package recv

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/lanbeam"
	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	lssend "github.com/lanbeam/lanbeam/internal/lanbeam/send"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/store"
)

type fakeFavorites map[string]bool

func (ff fakeFavorites) IsFavorite(fingerprint string) (bool, error) {
	return ff[fingerprint], nil
}

// startReceiver runs a real receiver on a loopback listener and
// returns it plus its reachable address.
func startReceiver(t *testing.T, saveDir string, policy config.QuickSave, favs fakeFavorites) (*FileReceiver, string, int) {
	t.Helper()

	ident := identity.New("Test Receiver", config.DefaultHTTPPort)
	fr := NewFileReceiver(ident, saveDir, policy, favs)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go fr.Serve(ln)
	t.Cleanup(func() { fr.Stop() })

	port := ln.Addr().(*net.TCPAddr).Port

	// wait for the server to answer
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := lanbeam.GetDeviceInfo("127.0.0.1", port); err == nil {
			return fr, "127.0.0.1", port
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("receiver did not come up")
	return nil, "", 0
}

func target(ip string, port int) models.SeenDevice {
	return models.SeenDevice{
		Announcement: models.Announcement{
			DeviceInfo: models.NewDeviceInfo("Test Receiver", "fp-recv"),
			Protocol:   "http",
			Port:       port,
		},
		IP:       ip,
		LastSeen: time.Now(),
	}
}

func newSender(t *testing.T, ip string, port int, files map[string]string) *lssend.Sender {
	t.Helper()

	sender := lssend.NewSender(models.NewDeviceInfo("Test Sender", "fp-send"), target(ip, port))
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := sender.AddFile(path); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	return sender
}

func TestInfoEndpoint(t *testing.T) {
	_, ip, port := startReceiver(t, t.TempDir(), config.QuickSaveOn, nil)

	info, err := lanbeam.GetDeviceInfo(ip, port)
	if err != nil {
		t.Fatalf("get device info: %v", err)
	}
	if info.Alias != "Test Receiver" {
		t.Errorf("alias = %q", info.Alias)
	}
	if info.Fingerprint == "" {
		t.Error("info must carry a fingerprint")
	}
}

func TestRegisterFeedsDiscovery(t *testing.T) {
	fr, ip, port := startReceiver(t, t.TempDir(), config.QuickSaveOn, nil)

	cache := store.NewDeviceCache(time.Second)
	disco, err := lanbeam.NewDiscovery(identity.New("Test Receiver", port), cache, config.DefaultMulticastAddr)
	if err != nil {
		t.Fatalf("new discovery: %v", err)
	}
	fr.AttachDiscovery(disco)

	self := models.Announcement{
		DeviceInfo: models.NewDeviceInfo("Registrant", "fp-registrant"),
		Protocol:   "http",
		Port:       53999,
	}
	info, err := lanbeam.RegisterWith(ip, port, self)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if info.Alias != "Test Receiver" {
		t.Errorf("register response alias = %q", info.Alias)
	}

	devices := disco.Devices()
	if len(devices) != 1 || devices[0].Fingerprint != "fp-registrant" {
		t.Fatalf("expected the registrant in the peer set, got %+v", devices)
	}
}

func TestEndToEndTransfer(t *testing.T) {
	saveDir := t.TempDir()
	_, ip, port := startReceiver(t, saveDir, config.QuickSaveOn, nil)

	sender := newSender(t, ip, port, map[string]string{
		"alpha.txt": "first file",
		"beta.txt":  "second file",
	})

	if err := sender.Start(); err != nil {
		t.Fatalf("send: %v", err)
	}

	for name, content := range map[string]string{"alpha.txt": "first file", "beta.txt": "second file"} {
		data, err := os.ReadFile(filepath.Join(saveDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != content {
			t.Errorf("%s content = %q; want %q", name, data, content)
		}
	}
}

func TestFavoritesPolicyOverHTTP(t *testing.T) {
	saveDir := t.TempDir()
	_, ip, port := startReceiver(t, saveDir, config.QuickSaveFavorites, fakeFavorites{"fp-friend": true})

	// unknown sender is turned away with 403
	stranger := newSender(t, ip, port, map[string]string{"file.txt": "data"})
	err := stranger.Start()
	if !errors.Is(err, lserrors.ErrRejected) {
		t.Fatalf("stranger err = %v; want ErrRejected", err)
	}
	if _, statErr := os.Stat(filepath.Join(saveDir, "file.txt")); !os.IsNotExist(statErr) {
		t.Error("rejected transfer must not write files")
	}

	// favorite goes straight through
	friend := lssend.NewSender(models.NewDeviceInfo("Friend", "fp-friend"), target(ip, port))
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hi"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := friend.AddFile(path); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := friend.Start(); err != nil {
		t.Fatalf("friend send: %v", err)
	}
	if _, err := os.Stat(filepath.Join(saveDir, "hello.txt")); err != nil {
		t.Errorf("favorite's file missing: %v", err)
	}
}

func TestDeferredDecisionOverHTTP(t *testing.T) {
	saveDir := t.TempDir()
	fr, ip, port := startReceiver(t, saveDir, config.QuickSaveOff, nil)
	fr.Sessions().SetPendingTTL(10 * time.Second)

	sender := newSender(t, ip, port, map[string]string{"asked.txt": "may I"})

	errCh := make(chan error, 1)
	go func() { errCh <- sender.Start() }()

	// the sender's prepare request is now held open; accept it
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pts := fr.Sessions().Pending(); len(pts) == 1 {
			pts[0].Accept()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("accepted send failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send did not finish after acceptance")
	}

	if _, err := os.Stat(filepath.Join(saveDir, "asked.txt")); err != nil {
		t.Errorf("accepted file missing: %v", err)
	}
}

func TestPINRequired(t *testing.T) {
	fr, ip, port := startReceiver(t, t.TempDir(), config.QuickSaveOn, nil)
	fr.SetPIN("1234")

	sender := newSender(t, ip, port, map[string]string{"locked.txt": "x"})
	err := sender.Start()
	if !errors.Is(err, lserrors.ErrInvalidPIN) {
		t.Fatalf("err = %v; want ErrInvalidPIN", err)
	}

	sender2 := newSender(t, ip, port, map[string]string{"unlocked.txt": "x"})
	sender2.SetPIN("1234")
	if err := sender2.Start(); err != nil {
		t.Fatalf("send with pin: %v", err)
	}
}
