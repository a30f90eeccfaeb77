package send

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/lanbeam/lanbeam/internal/lanbeam/constants"
	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/utils"
)

// ErrAborted reports a transfer stopped by Cancel before it finished.
var ErrAborted = errors.New("transfer aborted")

// Sender drives the prepare-upload/upload sequence against one peer.
// All per-file uploads run concurrently; the first failure after a
// session was prepared triggers exactly one best-effort cancel before
// the original error is returned.
type Sender struct {
	local  models.DeviceInfo
	remote models.SeenDevice
	pin    string

	mu      sync.Mutex
	session string

	files  map[string]models.FileMeta
	tokens models.FileTokens

	abort      atomic.Bool
	cancelOnce sync.Once

	// Progress, when set, receives a writer sink per file for byte
	// accounting (the CLI plugs a progress bar in here).
	Progress func(meta models.FileMeta) io.Writer
}

func NewSender(local models.DeviceInfo, target models.SeenDevice) *Sender {
	return &Sender{
		local:  local,
		remote: target,
		files:  make(map[string]models.FileMeta),
		tokens: make(models.FileTokens),
	}
}

func (s *Sender) SetPIN(pin string) {
	s.pin = pin
}

func (s *Sender) AddFile(filePath string) error {
	meta, err := models.GenFileMeta(filePath)
	if err != nil {
		return err
	}

	s.files[meta.Id] = meta
	return nil
}

func (s *Sender) AddDir(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return s.AddFile(path)
	})
}

// Files returns the metadata of everything queued so far.
func (s *Sender) Files() []models.FileMeta {
	metas := make([]models.FileMeta, 0, len(s.files))
	for _, meta := range s.files {
		metas = append(metas, meta)
	}
	return metas
}

func (s *Sender) Start() error {
	if len(s.files) == 0 {
		return nil
	}

	if err := s.prepareUpload(); err != nil {
		if errors.Is(err, lserrors.ErrFinished) {
			// 204: the receiver wants nothing we have
			slog.Info("Nothing to send", "remote", s.remote.Alias)
			return nil
		}
		return fmt.Errorf("prepare upload with %s: %w", s.remote.Alias, err)
	}

	if s.abort.Load() {
		// Cancel landed while the prepare was in flight; the session
		// just opened still needs to be told
		s.cancelSession()
		return ErrAborted
	}

	type filePair struct {
		id    string
		token string
	}
	pairs := make([]filePair, 0, len(s.tokens))
	for fid, ftoken := range s.tokens {
		pairs = append(pairs, filePair{id: fid, token: ftoken})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	utils.ForEachAsync(pairs, &wg, func(p filePair) {
		if s.abort.Load() {
			return
		}

		if err := s.sendFile(p.id, p.token); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("send %s: %w", s.files[p.id].Filename, err)
			}
			mu.Unlock()
		}
	})
	wg.Wait()

	if firstErr == nil && s.abort.Load() {
		firstErr = ErrAborted
	}
	if firstErr != nil {
		// cleanup is attempted, but its failure never masks firstErr
		s.cancelSession()
		return firstErr
	}

	return nil
}

func (s *Sender) prepareUpload() error {
	agent := fiber.AcquireAgent()
	// Bytes() hands a non-reusable agent back to the pool on its own;
	// Reuse keeps it ours until the explicit release
	agent.Reuse()
	defer fiber.ReleaseAgent(agent)

	meta := models.PreUploadReq{
		Info:  &s.local,
		Files: s.files,
	}

	req := agent.Request()
	s.prepareUri(req, constants.PreuploadPath)
	req.Header.SetMethod(fiber.MethodPost)
	if s.pin != "" {
		req.URI().QueryArgs().Add("pin", s.pin)
	}
	if err := agent.Parse(); err != nil {
		return err
	}

	// generous timeout: the receiver may be holding the request open
	// while a human decides
	status, b, errs := agent.Timeout(constants.PrepareTimeout).JSON(&meta).Bytes()
	if len(errs) != 0 {
		return errs[0]
	}
	if err := lserrors.ParseError(status); err != nil {
		return err
	}

	var respMeta models.PreUploadResp
	if err := json.Unmarshal(b, &respMeta); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = respMeta.SessionId
	s.mu.Unlock()
	s.tokens = respMeta.Tokens

	return nil
}

func (s *Sender) sessionId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Sender) sendFile(fid string, ftoken string) error {
	fmeta, ok := s.files[fid]
	if !ok {
		return lserrors.ErrUnknown // unlikely, but check it anyway
	}

	agent := fiber.AcquireAgent()
	agent.Reuse()
	defer fiber.ReleaseAgent(agent)

	req := agent.Request()
	s.prepareUri(req, constants.UploadPath)
	req.Header.SetMethod(fiber.MethodPost)
	req.URI().QueryArgs().Add("sessionId", s.sessionId())
	req.URI().QueryArgs().Add("fileId", fid)
	req.URI().QueryArgs().Add("token", ftoken)
	if err := agent.Parse(); err != nil {
		return err
	}

	fd, err := os.Open(fmeta.FullPath)
	if err != nil {
		return err
	}
	defer fd.Close()

	var body io.Reader = fd
	if s.Progress != nil {
		if sink := s.Progress(fmeta); sink != nil {
			body = io.TeeReader(fd, sink)
		}
	}

	status, _, errs := agent.Timeout(constants.UploadTimeout).BodyStream(body, int(fmeta.Size)).Bytes()
	if len(errs) != 0 {
		return errs[0]
	}

	return lserrors.ParseError(status)
}

// Cancel aborts the transfer from outside (e.g. SIGINT). A session
// already prepared is cancelled on the receiver; an abort landing
// mid-prepare is picked up by Start as soon as the prepare returns.
func (s *Sender) Cancel() {
	s.abort.Store(true)
	s.cancelSession()
}

// cancelSession notifies the receiver at most once. Cancellation is
// advisory: a failure to deliver it is logged and swallowed. Without a
// prepared session there is nothing to notify, and the one delivery
// stays available for when a session exists.
func (s *Sender) cancelSession() {
	s.abort.Store(true)

	session := s.sessionId()
	if session == "" {
		return
	}

	s.cancelOnce.Do(func() {
		agent := fiber.AcquireAgent()
		agent.Reuse()
		defer fiber.ReleaseAgent(agent)

		req := agent.Request()
		s.prepareUri(req, constants.CancelPath)
		req.Header.SetMethod(fiber.MethodPost)
		req.URI().QueryArgs().Add("sessionId", session)
		if err := agent.Parse(); err != nil {
			slog.Warn("Fail to cancel session", "session", session, "error", err)
			return
		}

		if _, _, errs := agent.Bytes(); len(errs) != 0 {
			slog.Warn("Fail to cancel session", "session", session, "error", errs[0])
		}
	})
}

func (s *Sender) prepareUri(req *fasthttp.Request, path string) {
	remoteAddr := net.JoinHostPort(s.remote.IP, strconv.Itoa(s.remote.Port))

	req.Header.SetUserAgent("lanbeam")
	req.URI().SetScheme("http")
	req.URI().SetHost(remoteAddr)
	req.URI().SetPath(path)
}
