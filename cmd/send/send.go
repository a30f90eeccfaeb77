package send

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/lanbeam"
	lserrors "github.com/lanbeam/lanbeam/internal/lanbeam/errors"
	lssend "github.com/lanbeam/lanbeam/internal/lanbeam/send"
	lsutils "github.com/lanbeam/lanbeam/internal/lanbeam/utils"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/store"
	"github.com/lanbeam/lanbeam/internal/utils"
)

var (
	ip       string
	port     int
	to       string
	files    []string
	pin      string
	noProg   bool
	scanSecs int64
)

var Cmd = &cobra.Command{
	Use:   "send [files]...",
	Short: "Send files to a device",
	Long:  "Send files to a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		files = append(files, args...)
		if len(files) == 0 {
			return errors.New("file is required")
		}
		if ip == "" && to == "" {
			return errors.New("either --ip or --to is required")
		}

		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		alias := cfg.Alias
		if alias == "" {
			alias = lsutils.GenAlias()
		}
		ident := identity.New(alias, cfg.HTTPPort)

		target, err := resolveTarget(cfg, ident)
		if err != nil {
			return err
		}

		sender := lssend.NewSender(ident.Info(), target)
		sender.SetPIN(pin)
		if !noProg {
			sender.Progress = func(meta models.FileMeta) io.Writer {
				return progressbar.DefaultBytes(meta.Size, meta.Filename)
			}
		}

		for _, file := range files {
			finfo, err := os.Stat(file)
			if err != nil {
				slog.Error("Fail to probe file", "file", file, "error", err)
				continue
			}
			if finfo.IsDir() {
				err = sender.AddDir(file)
			} else {
				err = sender.AddFile(file)
			}
			if err != nil {
				slog.Error("Fail to add, skipping...", "path", file, "error", err)
			}
		}

		var total int64
		for _, meta := range sender.Files() {
			total += meta.Size
		}
		slog.Info("Start sending", "to", target.Alias, "files", len(sender.Files()), "size", humanize.Bytes(uint64(total)))

		go func() {
			<-utils.WaitForSignal()
			slog.Info("Abort")
			sender.Cancel()
		}()

		if err := sender.Start(); err != nil {
			if errors.Is(err, lssend.ErrAborted) {
				slog.Info("Aborted")
				return nil
			}
			return fmt.Errorf("%s: %w", target.Alias, describeSendErr(err))
		}

		slog.Info("Done")
		return nil
	},
}

// describeSendErr keeps policy failures distinguishable from plain
// connectivity problems so the user knows whether to retry with a PIN.
func describeSendErr(err error) error {
	switch {
	case errors.Is(err, lserrors.ErrInvalidPIN):
		return errors.New("a valid PIN is required (retry with --pin)")
	case errors.Is(err, lserrors.ErrRejected):
		return errors.New("the receiver rejected the transfer")
	case errors.Is(err, lserrors.ErrBlockedByOthers):
		return errors.New("the receiver is busy with another transfer")
	default:
		return err
	}
}

// resolveTarget turns --ip or --to into a concrete device, running a
// short discovery round when only an alias or fingerprint was given.
func resolveTarget(cfg *config.Config, ident identity.Identity) (models.SeenDevice, error) {
	if ip != "" {
		info, err := lanbeam.GetDeviceInfo(ip, port)
		if err != nil {
			return models.SeenDevice{}, fmt.Errorf("get device info from %s: %w", ip, err)
		}
		return models.SeenDevice{
			Announcement: models.Announcement{DeviceInfo: info, Protocol: "http", Port: port},
			IP:           ip,
			LastSeen:     time.Now(),
		}, nil
	}

	cache := store.NewDeviceCache(store.DefaultCacheTTL)
	scanner, err := lanbeam.NewDiscovery(ident, cache, cfg.MulticastAddr)
	if err != nil {
		return models.SeenDevice{}, err
	}
	if err := scanner.Start(); err != nil {
		return models.SeenDevice{}, err
	}
	defer scanner.Stop()

	deadline := time.Now().Add(time.Second * time.Duration(scanSecs))
	for time.Now().Before(deadline) {
		for _, dev := range scanner.Devices() {
			if strings.EqualFold(dev.Alias, to) || dev.Fingerprint == to {
				return dev, nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}

	return models.SeenDevice{}, fmt.Errorf("no device named %q found", to)
}

func init() {
	Cmd.PersistentFlags().StringVar(&ip, "ip", "", "IP address of the receiving device")
	Cmd.PersistentFlags().IntVar(&port, "port", config.DefaultHTTPPort, "HTTP port of the receiving device")
	Cmd.PersistentFlags().StringVar(&to, "to", "", "Alias or fingerprint of the receiving device")
	Cmd.PersistentFlags().StringSliceVarP(&files, "file", "f", []string{}, "File/Directory to be sent")
	Cmd.PersistentFlags().StringVarP(&pin, "pin", "p", "", "PIN code")
	Cmd.PersistentFlags().BoolVar(&noProg, "no-progress", false, "Disable progress bars")
	Cmd.PersistentFlags().Int64Var(&scanSecs, "scan-timeout", 4, "discovery duration in seconds when using --to")
}
