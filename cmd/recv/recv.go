package recv

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/identity"
	"github.com/lanbeam/lanbeam/internal/lanbeam"
	lsrecv "github.com/lanbeam/lanbeam/internal/lanbeam/recv"
	"github.com/lanbeam/lanbeam/internal/lanbeam/session"
	lsutils "github.com/lanbeam/lanbeam/internal/lanbeam/utils"
	"github.com/lanbeam/lanbeam/internal/models"
	"github.com/lanbeam/lanbeam/internal/store"
	"github.com/lanbeam/lanbeam/internal/utils"
)

var (
	devname   string
	savetodir string
	httpPort  int
	policyStr string
	pin       string
	noDisco   bool
)

var Cmd = &cobra.Command{
	Use:   "recv",
	Short: "Receive files from other devices",
	Long:  "Receive files from other devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		// flags win over env
		if devname != "" {
			cfg.Alias = devname
		}
		if cfg.Alias == "" {
			cfg.Alias = lsutils.GenAlias()
		}
		if savetodir != "" {
			cfg.SaveDir = savetodir
		}
		if httpPort != 0 {
			cfg.HTTPPort = config.ValidPort(fmt.Sprint(httpPort))
		}
		if pin != "" {
			cfg.PIN = pin
		}
		if policyStr != "" {
			policy, err := config.ParseQuickSave(policyStr)
			if err != nil {
				return err
			}
			cfg.QuickSave = policy
		}
		if noDisco {
			cfg.Discovery = false
		}

		if err := config.EnsureDataDir(cfg.DataDir); err != nil {
			return err
		}
		favs, err := store.OpenFavorites(cfg.DataDir)
		if err != nil {
			return err
		}
		defer favs.Close()

		ident := identity.New(cfg.Alias, cfg.HTTPPort)
		cache := store.NewDeviceCache(store.DefaultCacheTTL)

		recver := lsrecv.NewFileReceiver(ident, cfg.SaveDir, cfg.QuickSave, favs)
		recver.SetPIN(cfg.PIN)

		var wg sync.WaitGroup

		if cfg.Discovery {
			disco, err := lanbeam.NewDiscovery(ident, cache, cfg.MulticastAddr)
			if err != nil {
				return err
			}
			recver.AttachDiscovery(disco)
			if err := disco.Start(); err != nil {
				return err
			}
			defer disco.Stop()
		}

		if cfg.QuickSave == config.QuickSaveOff {
			recver.Sessions().OnPending = promptDecision(recver.Sessions())
		}
		recver.Sessions().OnComplete = func(sessionId string, sender models.DeviceInfo) {
			slog.Info("Transfer complete", "from", sender.Alias, "session", sessionId)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := recver.Start(); err != nil {
				slog.Error("Fail to start server", "error", err)
			}
		}()

		slog.Info("Receiving", "alias", cfg.Alias, "dir", cfg.SaveDir, "port", cfg.HTTPPort, "policy", cfg.QuickSave)

		<-utils.WaitForSignal()

		recver.Stop()
		wg.Wait()
		return nil
	},
}

// promptDecision asks on stdin for each parked transfer. The prompt
// runs in its own goroutine so the HTTP handler stays parked on the
// decision channel, not on the terminal.
func promptDecision(sessman *session.Manager) func(pt *session.PendingTransfer) {
	stdin := bufio.NewReader(os.Stdin)
	var mu sync.Mutex

	return func(pt *session.PendingTransfer) {
		go func() {
			mu.Lock()
			defer mu.Unlock()

			if pt.Status() != session.DecisionPending {
				return
			}

			fmt.Fprintf(os.Stdout, "\nIncoming: %d file(s), %s from %q\n",
				len(pt.Files), humanize.Bytes(uint64(pt.Files.TotalSize())), pt.Sender.Alias)
			for _, meta := range pt.Files {
				fmt.Fprintf(os.Stdout, "  %s (%s)\n", meta.Filename, humanize.Bytes(uint64(meta.Size)))
			}
			fmt.Fprintf(os.Stdout, "Accept? [y/N] ")

			line, err := stdin.ReadString('\n')
			if err == nil && strings.EqualFold(strings.TrimSpace(line), "y") {
				pt.Accept()
				return
			}
			pt.Reject()
		}()
	}
}

func init() {
	Cmd.PersistentFlags().StringVarP(&devname, "name", "n", "", "Device name to advertise")
	Cmd.PersistentFlags().StringVarP(&savetodir, "dir", "d", "", "Directory for received files")
	Cmd.PersistentFlags().IntVar(&httpPort, "port", 0, "HTTP listen port")
	Cmd.PersistentFlags().StringVar(&policyStr, "policy", "", "Quick-save policy: off, favorites or on")
	Cmd.PersistentFlags().StringVarP(&pin, "pin", "p", "", "PIN code required from senders")
	Cmd.PersistentFlags().BoolVar(&noDisco, "no-discovery", false, "Do not announce over multicast")
}
