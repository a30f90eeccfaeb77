package scan

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/lanbeam"
	lsutils "github.com/lanbeam/lanbeam/internal/lanbeam/utils"
	"github.com/lanbeam/lanbeam/internal/store"
)

var timeout int64

var Cmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the local network for devices",
	Long:  "Scan the local network for devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		alias := cfg.Alias
		if alias == "" {
			alias = lsutils.GenAlias()
		}
		ident := identity.New(alias, cfg.HTTPPort)

		cache := store.NewDeviceCache(store.DefaultCacheTTL)
		scanner, err := lanbeam.NewDiscovery(ident, cache, cfg.MulticastAddr)
		if err != nil {
			return err
		}

		slog.Info("Start scanning", "seconds", timeout)
		if err := scanner.Start(); err != nil {
			return err
		}

		time.Sleep(time.Second * time.Duration(timeout))
		scanner.Stop()

		devices := scanner.Devices()
		if len(devices) == 0 {
			fmt.Fprintln(os.Stderr, "No device found")
			return nil
		}

		var favs *store.Favorites
		if err := config.EnsureDataDir(cfg.DataDir); err == nil {
			if favs, err = store.OpenFavorites(cfg.DataDir); err == nil {
				defer favs.Close()
			}
		}

		fmt.Fprintf(os.Stdout, "Found devices:\n")
		for _, dev := range devices {
			star := " "
			if favs != nil {
				if fav, _ := favs.IsFavorite(dev.Fingerprint); fav {
					star = "*"
				}
			}
			fmt.Fprintf(os.Stdout, "  %s %-24s %s:%d\t%s\tseen %s\n",
				star, dev.Alias, dev.IP, dev.Port, dev.Fingerprint, humanize.Time(dev.LastSeen))
		}
		return nil
	},
}

func init() {
	Cmd.PersistentFlags().Int64VarP(&timeout, "timeout", "t", 4, "scan duration in seconds")
}
