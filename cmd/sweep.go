package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"tasktracker/service"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge trashed tasks older than the retention window once",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		b, err := openBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		report, err := service.NewSweeper(b.tasks, b.activity, logger, cfg.RetentionDays).PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "purged %d task(s)\n", report.Purged)
		if len(report.Failed) == 0 {
			return nil
		}
		ids := make([]string, 0, len(report.Failed))
		for id := range report.Failed {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "failed %s: %s\n", id, report.Failed[id])
		}
		return fmt.Errorf("%d task(s) could not be purged", len(ids))
	},
}
