package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lanbeam/lanbeam/internal/models"
)

type Decision int

const (
	DecisionPending Decision = iota
	DecisionAccepted
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionAccepted:
		return "accepted"
	case DecisionRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// PendingTransfer is a transfer request parked until a human decides.
// The prepare-upload handler that created it stays blocked on the
// decision channel, which stands in for the held-open HTTP response.
type PendingTransfer struct {
	Id        string
	Sender    models.DeviceInfo
	Files     models.FileMetas
	ArrivedAt time.Time

	mu       sync.Mutex
	once     sync.Once
	status   Decision
	decision chan Decision
}

func newPendingTransfer(id string, sender models.DeviceInfo, files models.FileMetas) *PendingTransfer {
	return &PendingTransfer{
		Id:        id,
		Sender:    sender,
		Files:     files,
		ArrivedAt: time.Now(),
		decision:  make(chan Decision, 1),
	}
}

func (pt *PendingTransfer) Status() Decision {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.status
}

// resolve completes the transfer exactly once; a second resolution
// attempt is a logged no-op.
func (pt *PendingTransfer) resolve(dec Decision) {
	resolved := false
	pt.once.Do(func() {
		pt.mu.Lock()
		pt.status = dec
		pt.mu.Unlock()

		pt.decision <- dec
		resolved = true
	})

	if !resolved {
		slog.Warn("Pending transfer already resolved", "transfer", pt.Id, "attempted", dec)
	}
}

func (pt *PendingTransfer) Accept() {
	pt.resolve(DecisionAccepted)
}

func (pt *PendingTransfer) Reject() {
	pt.resolve(DecisionRejected)
}
