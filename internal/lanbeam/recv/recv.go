package recv

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/lanbeam"
	"github.com/lanbeam/lanbeam/internal/lanbeam/constants"
	"github.com/lanbeam/lanbeam/internal/lanbeam/session"
	lsutils "github.com/lanbeam/lanbeam/internal/lanbeam/utils"
)

// FileReceiver is the HTTP half of the receiver: the fixed five-route
// protocol surface in front of a session Manager.
type FileReceiver struct {
	identity    identity.Identity
	webServer   *fiber.App
	sessman     *session.Manager
	discovery   *lanbeam.Discovery
	expectedPin string
}

func NewFileReceiver(ident identity.Identity, saveToDir string, policy config.QuickSave, favorites session.FavoriteChecker) *FileReceiver {
	return &FileReceiver{
		identity:  ident,
		webServer: lsutils.NewWebServer(),
		sessman:   session.NewManager(saveToDir, policy, favorites),
	}
}

// SetPIN requires senders to present this pin on prepare-upload.
func (fr *FileReceiver) SetPIN(pin string) {
	fr.expectedPin = pin
}

// AttachDiscovery lets register calls feed the peer table.
func (fr *FileReceiver) AttachDiscovery(d *lanbeam.Discovery) {
	fr.discovery = d
}

// Sessions exposes the session manager for decision prompts.
func (fr *FileReceiver) Sessions() *session.Manager {
	return fr.sessman
}

func (fr *FileReceiver) routes() {
	server := fr.webServer
	server.Get(constants.InfoPath, fr.infoHandler)
	server.Post(constants.RegisterPath, fr.registerHandler)
	server.Post(constants.PreuploadPath, fr.preUploadHandler)
	server.Post(constants.UploadPath, fr.uploadHandler)
	server.Post(constants.CancelPath, fr.cancelHandler)
}

// Start listens on the identity's configured port and blocks.
func (fr *FileReceiver) Start() error {
	fr.routes()
	fr.sessman.Start()

	slog.Info("Waiting to receive files", "port", fr.identity.Port(), "alias", fr.identity.Info().Alias)
	return fr.webServer.Listen(fmt.Sprintf("0.0.0.0:%d", fr.identity.Port()))
}

// Serve runs the receiver on a caller-provided listener.
func (fr *FileReceiver) Serve(ln net.Listener) error {
	fr.routes()
	fr.sessman.Start()

	return fr.webServer.Listener(ln)
}

func (fr *FileReceiver) Stop() error {
	slog.Info("Stop receiving")

	fr.sessman.Stop()
	return fr.webServer.Shutdown()
}
