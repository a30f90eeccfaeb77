package recv

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"

	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	"github.com/lanbeam/lanbeam/internal/models"
)

func (fr *FileReceiver) infoHandler(c *fiber.Ctx) error {
	info := fr.identity.Info()
	return c.JSON(&info)
}

func (fr *FileReceiver) registerHandler(c *fiber.Ctx) error {
	var anno models.Announcement
	if err := c.BodyParser(&anno); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	if fr.discovery != nil {
		if ip := net.ParseIP(fiberutils.CopyString(c.IP())); ip != nil {
			fr.discovery.RegisterPeer(ip, anno)
		}
	}

	info := fr.identity.Info()
	return c.JSON(&info)
}

func (fr *FileReceiver) preUploadHandler(c *fiber.Ctx) error {
	// check pin if it's set
	if fr.expectedPin != "" {
		if c.Query("pin") != fr.expectedPin {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	var metaReq models.PreUploadReq
	if err := c.BodyParser(&metaReq); err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	var sender models.DeviceInfo
	if metaReq.Info != nil {
		sender = *metaReq.Info
	}
	remoteIP := fiberutils.CopyString(c.IP()) // strings in fiber are unsafe due to zero allocation

	// under the "ask" policy this parks until a decision arrives,
	// keeping the sender's connection open
	resp, err := fr.sessman.PrepareUpload(sender, remoteIP, metaReq.Files)
	if err != nil {
		status := lserrors.Status(err)
		if !errors.Is(err, lserrors.ErrRejected) && !errors.Is(err, lserrors.ErrFinished) {
			slog.Error("preupload error", "remote", remoteIP, "error", err)
		}
		return c.SendStatus(status)
	}

	return c.JSON(&resp)
}

func (fr *FileReceiver) uploadHandler(c *fiber.Ctx) error {
	sessionId := c.Query("sessionId")
	fileId := c.Query("fileId")
	token := c.Query("token")

	if sessionId == "" || fileId == "" || token == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	var body io.Reader = c.Context().RequestBodyStream()
	if body == nil {
		body = bytes.NewReader(c.Body())
	}

	err := fr.sessman.SaveFile(sessionId, fileId, token, body)
	if err != nil {
		slog.Error("Upload error", "remote", c.IP(), "session", sessionId, "error", err)
		return c.SendStatus(lserrors.Status(err))
	}

	return c.SendStatus(fiber.StatusOK)
}

func (fr *FileReceiver) cancelHandler(c *fiber.Ctx) error {
	sessionId := c.Query("sessionId")
	if sessionId == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	fr.sessman.KillSession(sessionId)
	return c.SendStatus(fiber.StatusOK)
}
