package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dulcetentacion/storefront/internal/maintenance"
)

func newBackupCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a compressed snapshot of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := e.catalog(ctx)
			if err != nil {
				return err
			}
			backups := maintenance.NewBackups(e.cfg.BackupDir)
			info, err := backups.Create(ctx, store)
			if err != nil {
				return err
			}
			e.out.Success("Backup written: %s", info.Path)

			list, err := backups.List()
			if err != nil {
				return err
			}
			if len(list) > maintenance.KeepBackups {
				e.out.Warning("%d backups in %s; consider removing old ones", len(list), backups.Dir())
			}
			return nil
		},
	}
}

func newBackupsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List catalog backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			list, err := maintenance.NewBackups(e.cfg.BackupDir).List()
			if err != nil {
				return err
			}
			e.out.Section("Backups in " + e.cfg.BackupDir)
			e.out.Backups(list)
			return nil
		},
	}
}

func newRestoreCmd(e *env) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "restore <backup>",
		Short: "Replace the catalog with a backup",
		Long: `Replace the whole catalog with the content of a backup file.

A backup of the current catalog is written before anything is changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, fmt.Sprintf("Replace the catalog with %s?", args[0])) {
				e.out.Muted("Restore cancelled")
				return nil
			}
			ctx := cmd.Context()
			store, err := e.catalog(ctx)
			if err != nil {
				return err
			}
			safety, err := maintenance.NewBackups(e.cfg.BackupDir).Restore(ctx, store, args[0])
			if safety != nil {
				e.out.Muted("Previous catalog saved to %s", safety.Path)
			}
			if err != nil {
				return err
			}
			e.out.Success("Catalog restored from %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// confirm asks a yes/no question on the command input.
func confirm(cmd *cobra.Command, question string) bool {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "s", "si", "sí":
		return true
	default:
		return false
	}
}
