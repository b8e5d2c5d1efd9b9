package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/spf13/cobra"
)

var resetConfirm string

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start a new period",
		Long: `Start a new period. A full backup of the transactional, core and
configuration tables is taken first; if it cannot be stored nothing is
deleted. Then transactional records are removed and running balances are
zeroed, table by table.

Requires --confirm "START NEW PERIOD".`,
		Example: `  rollcall reset --confirm "START NEW PERIOD"`,
		RunE:    resetRun,
	}
	cmd.Flags().StringVar(&resetConfirm, "confirm", "", "confirmation phrase")
	return cmd
}

func resetRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	report, err := globalService.ResetPeriod(cmd.Context(), backup.ResetRequest{
		Confirmation: resetConfirm,
		RequestedBy:  globalCfg.Backup.CreatedBy,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Safety backup: %s (%s)\n\n", report.SafetyBackupID, report.SafetyBackup.FileName)
	fmt.Printf("%-24s %10s %10s  %s\n", "TABLE", "DELETED", "ZEROED", "STATUS")
	fmt.Println(strings.Repeat("-", 70))
	for _, t := range report.Tables {
		status := "ok"
		if t.Err != nil {
			status = "FAILED: " + t.Err.Err.Error()
		}
		fmt.Printf("%-24s %10d %10d  %s\n", t.Table, t.Deleted, t.Zeroed, status)
	}
	fmt.Printf("\nCompleted in %s\n", report.Duration.Round(time.Millisecond))

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d table(s) failed to reset; restore from backup %s if needed", len(failed), report.SafetyBackupID)
	}
	return nil
}
