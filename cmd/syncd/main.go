// syncd is the sync engine daemon. It serves the HTTP sync API over a
// SQLite-backed engine and offers maintenance subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-sync-engine/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "syncd",
		Short: "Offline sync engine daemon",
		Long: "syncd queues offline client mutations, detects conflicts against\n" +
			"server state during drains, and exposes resolution over HTTP.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine; environment wins over file values.
			_ = godotenv.Load()
			logging.Init(logging.GetConfigFromEnv())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML or JSON config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))

	return cmd
}
