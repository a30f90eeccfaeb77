package lanbeam

import (
	"encoding/json"
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/lanbeam/lanbeam/internal/lanbeam/constants"
	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	"github.com/lanbeam/lanbeam/internal/models"
)

// GetDeviceInfo asks a peer for its identity over HTTP.
func GetDeviceInfo(ip string, port int) (models.DeviceInfo, error) {
	agent := fiber.AcquireAgent()
	agent.Reuse()
	defer fiber.ReleaseAgent(agent)

	req := agent.Request()
	req.URI().SetScheme("http")
	req.URI().SetHost(net.JoinHostPort(ip, strconv.Itoa(port)))
	req.URI().SetPath(constants.InfoPath)
	req.Header.SetMethod(fiber.MethodGet)
	if err := agent.Parse(); err != nil {
		return models.DeviceInfo{}, err
	}

	status, b, errs := agent.Bytes()
	if len(errs) != 0 {
		return models.DeviceInfo{}, errs[0]
	}
	if err := lserrors.ParseError(status); err != nil {
		return models.DeviceInfo{}, err
	}

	var res models.DeviceInfo
	if err := json.Unmarshal(b, &res); err != nil {
		return models.DeviceInfo{}, err
	}

	return res, nil
}

// RegisterWith introduces the local identity to a peer directly,
// bypassing multicast. Returns the peer's identity.
func RegisterWith(ip string, port int, self models.Announcement) (models.DeviceInfo, error) {
	agent := fiber.AcquireAgent()
	agent.Reuse()
	defer fiber.ReleaseAgent(agent)

	req := agent.Request()
	req.URI().SetScheme("http")
	req.URI().SetHost(net.JoinHostPort(ip, strconv.Itoa(port)))
	req.URI().SetPath(constants.RegisterPath)
	req.Header.SetMethod(fiber.MethodPost)
	if err := agent.Parse(); err != nil {
		return models.DeviceInfo{}, err
	}

	status, b, errs := agent.JSON(&self).Bytes()
	if len(errs) != 0 {
		return models.DeviceInfo{}, errs[0]
	}
	if err := lserrors.ParseError(status); err != nil {
		return models.DeviceInfo{}, err
	}

	var res models.DeviceInfo
	if err := json.Unmarshal(b, &res); err != nil {
		return models.DeviceInfo{}, err
	}

	return res, nil
}
