package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/treedb/cmd/treedb/commands"
	"github.com/teranos/treedb/config"
	"github.com/teranos/treedb/logger"
)

var rootCmd = &cobra.Command{
	Use:   "treedb",
	Short: "treedb - realtime tree database client",
	Long: `treedb - debug client for the realtime tree database.

Connects to a backend, mirrors a subtree locally, and exposes the
listener/write surface of the sync core from the command line.

Examples:
  treedb watch /chat/messages             # Stream child events
  treedb watch /scores --order-by value   # Ordered query
  treedb set /chat/messages/m1 '{"text":"hi"}'`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.SetCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
