package fav

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/store"
)

var (
	alias  string
	lastIP string
)

var Cmd = &cobra.Command{
	Use:   "fav",
	Short: "Manage favorite devices",
	Long:  "Manage favorite devices",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorite devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := openStore()
		if err != nil {
			return err
		}
		defer favs.Close()

		devices, err := favs.List()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Fprintln(os.Stdout, "No favorites")
			return nil
		}

		for _, dev := range devices {
			ip := dev.LastIP
			if ip == "" {
				ip = "-"
			}
			fmt.Fprintf(os.Stdout, "%-24s %s\t%s\tadded %s\n",
				dev.Alias, dev.Fingerprint, ip, humanize.Time(dev.AddedAt))
		}
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <fingerprint>",
	Short: "Add a device to favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if alias == "" {
			return errors.New("--alias is required")
		}

		favs, err := openStore()
		if err != nil {
			return err
		}
		defer favs.Close()

		return favs.Add(models.FavoriteDevice{
			Fingerprint: args[0],
			Alias:       alias,
			LastIP:      lastIP,
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <fingerprint>",
	Short: "Remove a device from favorites",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := openStore()
		if err != nil {
			return err
		}
		defer favs.Close()

		return favs.Remove(args[0])
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <fingerprint>",
	Short: "Toggle a device's favorite state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := openStore()
		if err != nil {
			return err
		}
		defer favs.Close()

		nowFav, err := favs.Toggle(models.FavoriteDevice{
			Fingerprint: args[0],
			Alias:       alias,
			LastIP:      lastIP,
		})
		if err != nil {
			return err
		}

		if nowFav {
			fmt.Fprintln(os.Stdout, "Added to favorites")
		} else {
			fmt.Fprintln(os.Stdout, "Removed from favorites")
		}
		return nil
	},
}

func openStore() (*store.Favorites, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}
	return store.OpenFavorites(cfg.DataDir)
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(removeCmd)
	Cmd.AddCommand(toggleCmd)

	addCmd.Flags().StringVarP(&alias, "alias", "a", "", "Device alias")
	addCmd.Flags().StringVar(&lastIP, "ip", "", "Last known IP")
	toggleCmd.Flags().StringVarP(&alias, "alias", "a", "", "Device alias (used when adding)")
	toggleCmd.Flags().StringVar(&lastIP, "ip", "", "Last known IP (used when adding)")
}
