package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-sync-engine/logging"
	"github.com/c0deZ3R0/go-sync-engine/storage/sqlite"
	"github.com/c0deZ3R0/go-sync-engine/syncengine"
)

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove applied and failed operations past the retention window",
		Long: "purge deletes terminal operations (applied, failed) whose processing\n" +
			"finished before the retention cutoff, along with resolved conflicts of\n" +
			"the same age. Unresolved conflicts and their operations are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if olderThanDays < 0 {
				olderThanDays = cfg.RetentionDays
			}

			store, err := sqlite.New(sqlite.DefaultConfig(cfg.DatabasePath))
			if err != nil {
				return err
			}
			service := syncengine.New(store, store, store)
			defer service.Close()

			purged, err := service.PurgeOld(cmd.Context(), olderThanDays)
			if err != nil {
				return err
			}

			logging.Default().Info("purge completed",
				slog.Int("older_than_days", olderThanDays),
				slog.Int("operations_purged", purged),
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than-days", -1, "retention window in days (defaults to config retention_days)")
	return cmd
}
