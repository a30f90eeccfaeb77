package session

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/lanbeam/constants"
	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	"github.com/lanbeam/lanbeam/internal/models"
)

// FavoriteChecker answers whether a sender fingerprint is a favorite.
// Satisfied by store.Favorites.
type FavoriteChecker interface {
	IsFavorite(fingerprint string) (bool, error)
}

// Manager owns the receiver-side session and pending-transfer maps.
// One Manager per receiver instance, never process-wide, so separate
// instances (and tests) cannot interfere.
type Manager struct {
	saveToDir  string
	policy     config.QuickSave
	favorites  FavoriteChecker
	pendingTTL time.Duration

	// admitMu serializes the busy check against session/pending
	// creation so racing prepare-uploads cannot both be admitted
	admitMu  sync.Mutex
	sessions *sync.Map
	pending  *sync.Map
	done     chan struct{}
	stopOnce sync.Once

	// notification hooks, all optional
	OnPending   func(pt *PendingTransfer)
	OnReceiving func(sender models.DeviceInfo, files int, size int64)
	OnComplete  func(sessionId string, sender models.DeviceInfo)
}

func NewManager(saveToDir string, policy config.QuickSave, favorites FavoriteChecker) *Manager {
	return &Manager{
		saveToDir:  saveToDir,
		policy:     policy,
		favorites:  favorites,
		pendingTTL: constants.PendingDecisionTimeout,
		sessions:   &sync.Map{},
		pending:    &sync.Map{},
		done:       make(chan struct{}),
	}
}

func (m *Manager) Start() {
	go m.vacuumTask()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})

	m.sessions.Range(func(key, value any) bool {
		value.(*RecvSession).End()
		m.sessions.Delete(key)
		return true
	})
	m.pending.Range(func(key, value any) bool {
		value.(*PendingTransfer).Reject()
		m.pending.Delete(key)
		return true
	})
}

func (m *Manager) vacuumTask() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sessions.Range(func(key, value any) bool {
				sessionId := key.(string)
				sess := value.(*RecvSession)

				switch {
				case sess.Finished():
					sess.End()
					m.sessions.Delete(sessionId)
					slog.Debug("Cleanup finished session", "session", sessionId)
				case sess.IdleFor() > constants.SessionIdleTimeout:
					// the sender went away without cancelling
					sess.End()
					m.sessions.Delete(sessionId)
					slog.Info("Expire abandoned session", "session", sessionId)
				}
				return true
			})
		}
	}
}

// PrepareUpload runs the accept/reject decision for an incoming
// transfer request. Under the "off" policy it blocks until a human
// decision (or expiry) arrives, which keeps the caller's HTTP
// connection open exactly as the protocol requires.
func (m *Manager) PrepareUpload(sender models.DeviceInfo, remoteIP string, files models.FileMetas) (models.PreUploadResp, error) {
	if len(files) == 0 {
		return models.PreUploadResp{}, lserrors.ErrFinished
	}

	m.admitMu.Lock()

	if m.busy() {
		m.admitMu.Unlock()
		return models.PreUploadResp{}, lserrors.ErrBlockedByOthers
	}

	switch m.policy {
	case config.QuickSaveOn:
		resp, err := m.openSession(sender, remoteIP, files)
		m.admitMu.Unlock()
		return resp, err

	case config.QuickSaveFavorites:
		fav, err := m.favorites.IsFavorite(sender.Fingerprint)
		if err != nil {
			m.admitMu.Unlock()
			slog.Error("Favorite lookup failed", "fingerprint", sender.Fingerprint, "error", err)
			return models.PreUploadResp{}, lserrors.ErrUnknown
		}
		if !fav {
			m.admitMu.Unlock()
			return models.PreUploadResp{}, lserrors.ErrRejected
		}
		resp, err := m.openSession(sender, remoteIP, files)
		m.admitMu.Unlock()
		return resp, err

	default: // ask
		// the stored pending transfer marks us busy from here on, so
		// the lock is not held while parked
		pt := newPendingTransfer(uuid.NewString(), sender, files)
		m.pending.Store(pt.Id, pt)
		m.admitMu.Unlock()
		return m.awaitDecision(pt, sender, remoteIP, files)
	}
}

func (m *Manager) awaitDecision(pt *PendingTransfer, sender models.DeviceInfo, remoteIP string, files models.FileMetas) (models.PreUploadResp, error) {
	defer m.pending.Delete(pt.Id)

	slog.Info("Transfer awaiting decision", "transfer", pt.Id, "sender", sender.Alias, "files", len(files))
	if m.OnPending != nil {
		m.OnPending(pt)
	}

	timer := time.NewTimer(m.pendingTTL)
	defer timer.Stop()

	var dec Decision
	select {
	case dec = <-pt.decision:
	case <-timer.C:
		// expiry counts as a rejection; resolve() is a no-op if a
		// human decision won the race, so drain whatever landed
		pt.resolve(DecisionRejected)
		dec = <-pt.decision
	case <-m.done:
		pt.resolve(DecisionRejected)
		dec = <-pt.decision
	}

	if dec != DecisionAccepted {
		return models.PreUploadResp{}, lserrors.ErrRejected
	}
	return m.openSession(sender, remoteIP, files)
}

// openSession atomically installs a fully token-populated session; no
// request ever observes a session under construction.
func (m *Manager) openSession(sender models.DeviceInfo, remoteIP string, files models.FileMetas) (models.PreUploadResp, error) {
	sessionId := uuid.NewString()
	sess, err := NewRecvSession(m.saveToDir, sessionId, sender)
	if err != nil {
		return models.PreUploadResp{}, err
	}
	sess.RemoteIP = remoteIP

	for fileId, meta := range files {
		if err := sess.AcceptFile(fileId, meta); err != nil {
			return models.PreUploadResp{}, err
		}
	}

	m.sessions.Store(sessionId, sess)

	slog.Info("Accepting files", "remote", remoteIP, "sender", sender.Alias, "session", sessionId, "files", len(files))
	if m.OnReceiving != nil {
		m.OnReceiving(sender, len(files), files.TotalSize())
	}

	return models.PreUploadResp{
		SessionId: sessionId,
		Tokens:    sess.Tokens(),
	}, nil
}

// SaveFile validates the (session, file, token) triple and streams the
// body to storage. A completed session is removed here, exactly once.
func (m *Manager) SaveFile(sessionId, fileId, token string, body io.Reader) error {
	sess, err := m.GetSession(sessionId)
	if err != nil {
		return err
	}

	finished, err := sess.SaveFile(fileId, token, body)
	if err != nil {
		return err
	}

	if finished {
		sess.End()
		m.sessions.Delete(sessionId)

		if m.OnComplete != nil {
			m.OnComplete(sessionId, sess.Sender)
		}
	}

	return nil
}

func (m *Manager) GetSession(sessionId string) (*RecvSession, error) {
	v, exist := m.sessions.Load(sessionId)
	if !exist {
		return nil, lserrors.ErrNotFound
	}
	return v.(*RecvSession), nil
}

// KillSession ends and removes a session, advisory-cancel style.
func (m *Manager) KillSession(sessionId string) {
	v, exist := m.sessions.LoadAndDelete(sessionId)
	if !exist {
		return
	}
	v.(*RecvSession).End()
}

// Pending lists transfers still awaiting a decision.
func (m *Manager) Pending() []*PendingTransfer {
	pts := make([]*PendingTransfer, 0)
	m.pending.Range(func(_, value any) bool {
		pt := value.(*PendingTransfer)
		if pt.Status() == DecisionPending {
			pts = append(pts, pt)
		}
		return true
	})
	return pts
}

// Resolve completes a pending transfer by id.
func (m *Manager) Resolve(transferId string, accept bool) error {
	v, exist := m.pending.Load(transferId)
	if !exist {
		return lserrors.ErrNotFound
	}

	pt := v.(*PendingTransfer)
	if accept {
		pt.Accept()
	} else {
		pt.Reject()
	}
	return nil
}

// busy reports whether another transfer is mid-flight: either an
// unfinished session or a parked prepare-upload.
func (m *Manager) busy() bool {
	active := false

	m.sessions.Range(func(_, value any) bool {
		if !value.(*RecvSession).Finished() {
			active = true
			return false
		}
		return true
	})
	if active {
		return true
	}

	m.pending.Range(func(_, value any) bool {
		if value.(*PendingTransfer).Status() == DecisionPending {
			active = true
			return false
		}
		return true
	})

	return active
}

// SetPendingTTL overrides the decision expiry window.
func (m *Manager) SetPendingTTL(ttl time.Duration) {
	if ttl > 0 {
		m.pendingTTL = ttl
	}
}
