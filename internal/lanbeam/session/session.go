package session

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/utils"
)

// RecvSession tracks one agreed-upon transfer: the per-file tokens
// issued at preparation time and which file ids have landed on disk.
type RecvSession struct {
	id        string
	saveToDir string
	Sender    models.DeviceInfo
	RemoteIP  string

	mu           sync.Mutex
	files        map[string]models.FileMeta
	received     map[string]struct{}
	valid        bool
	lastActivity time.Time
}

func NewRecvSession(saveToDir string, sessionId string, sender models.DeviceInfo) (*RecvSession, error) {
	sess := &RecvSession{
		id:           sessionId,
		saveToDir:    saveToDir,
		Sender:       sender,
		files:        make(map[string]models.FileMeta),
		received:     make(map[string]struct{}),
		valid:        true,
		lastActivity: time.Now(),
	}

	// ensure save dir exists
	err := os.MkdirAll(saveToDir, fs.ModePerm)
	if err != nil {
		return nil, err
	}

	return sess, nil
}

func (sess *RecvSession) Id() string {
	return sess.id
}

// AcceptFile issues a single-use token for one declared file.
func (sess *RecvSession) AcceptFile(fileId string, meta models.FileMeta) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.valid {
		return lserrors.ErrRejected
	}

	meta.Token = uuid.NewString()
	sess.files[fileId] = meta

	return nil
}

// Tokens returns the fileId -> token map handed back from prepare-upload.
func (sess *RecvSession) Tokens() models.FileTokens {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	tokens := make(models.FileTokens, len(sess.files))
	for fileId, meta := range sess.files {
		tokens[fileId] = meta.Token
	}
	return tokens
}

// SaveFile streams one file's bytes to disk. The file id is only
// marked received after the full stream has been durably written, so
// a failed upload can be retried with the same token. Returns whether
// the session is now complete.
func (sess *RecvSession) SaveFile(fileId string, token string, body io.Reader) (bool, error) {
	sess.mu.Lock()
	if !sess.valid {
		sess.mu.Unlock()
		return false, lserrors.ErrRejected
	}

	meta, exist := sess.files[fileId]
	if !exist {
		sess.mu.Unlock()
		return false, lserrors.ErrNotFound
	}
	if meta.Token != token {
		sess.mu.Unlock()
		return false, lserrors.ErrRejected
	}
	if _, done := sess.received[fileId]; done {
		sess.mu.Unlock()
		return false, lserrors.ErrRejected
	}
	sess.mu.Unlock()

	saveAs := filepath.Join(sess.saveToDir, filepath.Base(meta.Filename))
	if err := writeFile(saveAs, body, meta.Checksum); err != nil {
		return false, err
	}

	slog.Info("Recv file", "file", meta.Filename, "session", sess.id)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.received[fileId] = struct{}{}
	sess.lastActivity = time.Now()
	return len(sess.received) == len(sess.files), nil
}

// IdleFor reports the time since the session last made progress.
func (sess *RecvSession) IdleFor() time.Duration {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return time.Since(sess.lastActivity)
}

// writeFile lands the stream in a temp file and renames it into place,
// verifying the checksum first when one was declared.
func writeFile(saveAs string, body io.Reader, checksum string) error {
	part := saveAs + ".part"

	fd, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return lserrors.ErrFileIO
	}

	_, err = io.Copy(fd, body)
	if cerr := fd.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return lserrors.ErrFileIO
	}

	if checksum != "" {
		got, err := utils.SHA256ofFile(part)
		if err != nil || got != checksum {
			os.Remove(part)
			return lserrors.ErrChecksum
		}
	}

	if err := os.Rename(part, saveAs); err != nil {
		os.Remove(part)
		return lserrors.ErrFileIO
	}

	return nil
}

// Remaining reports how many declared files are still outstanding.
func (sess *RecvSession) Remaining() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.files) - len(sess.received)
}

// End invalidates the session; subsequent uploads are rejected.
func (sess *RecvSession) End() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.valid {
		sess.valid = false
		slog.Info("Session done", "session", sess.id)
	}
}

func (sess *RecvSession) Finished() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return !sess.valid || len(sess.received) == len(sess.files)
}
