package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/config"
)

var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "dhtnode",
	Short: "Wallet-owned DHT node",
	Long:  "Runs a single libp2p DHT node controlled over HTTP by the wallet that started it, with a directory of WireGuard relay nodes",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
