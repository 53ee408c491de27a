package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tasktracker/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tables and the activity queue if they do not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateStorage(); err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := storage.EnsureTables(ctx, cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable, cfg.ActivityTable); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
		if err := storage.EnsureQueues(ctx, cfg.StorageConnectionString, cfg.ActivityQueue); err != nil {
			return fmt.Errorf("create queues: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "storage ready")
		return nil
	},
}
