package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lanbeam/lanbeam/cmd/fav"
	"github.com/lanbeam/lanbeam/cmd/recv"
	"github.com/lanbeam/lanbeam/cmd/scan"
	"github.com/lanbeam/lanbeam/cmd/send"
)

var rootCmd = &cobra.Command{
	Use:   "lanbeam",
	Short: "Send and receive files over the local network",
	Long:  "Send and receive files over the local network",
}

func Execute() {
	// optional .env overrides for LANBEAM_* settings
	godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		slog.Error("Fail to execute", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(scan.Cmd)
	rootCmd.AddCommand(send.Cmd)
	rootCmd.AddCommand(recv.Cmd)
	rootCmd.AddCommand(fav.Cmd)
}
