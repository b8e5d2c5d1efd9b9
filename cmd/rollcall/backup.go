package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	createFrom    string
	createTo      string
	createAllTime bool
	createTables  string
	createFormat  string
	createOut     string
	createSave    bool

	saveFormat string
	saveFrom   string
	saveTo     string
	saveTables string

	downloadOut string

	importMode    string
	importConfirm string

	scheduledPeriod    string
	scheduledRetention int
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, store, list and restore backups",
	}
	cmd.AddCommand(
		newBackupCreateCmd(),
		newBackupSaveCmd(),
		newBackupListCmd(),
		newBackupDownloadCmd(),
		newBackupDeleteCmd(),
		newBackupImportCmd(),
		newBackupScheduledCmd(),
	)
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Export selected tables to a file or the backup catalog",
		Long: `Export the selected tables. Tables with a date column are filtered to the
--from/--to window unless --all-time is set. Tables that fail to read are
left out and reported; the export fails only when every table fails.

The structured format is a single JSON document that can be imported back.
The tabular format is a compressed tar holding one CSV file per table.`,
		Example: `  rollcall backup create --tables attendance,students --from 2024-01-01 --to 2024-01-31
  rollcall backup create --all-time --tables students,teachers --format tabular --out ./exports
  rollcall backup create --all-time --tables students --save`,
		RunE: backupCreateRun,
	}
	cmd.Flags().StringVar(&createFrom, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&createTo, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&createAllTime, "all-time", false, "ignore the date window")
	cmd.Flags().StringVar(&createTables, "tables", "", "comma-separated table names (default: all tables)")
	cmd.Flags().StringVar(&createFormat, "format", "", "structured or tabular (default: backup.default_format)")
	cmd.Flags().StringVar(&createOut, "out", ".", "directory to write the artifact to")
	cmd.Flags().BoolVar(&createSave, "save", false, "store the artifact in the catalog instead of writing a file")
	return cmd
}

func backupCreateRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	formatName := createFormat
	if formatName == "" {
		formatName = globalCfg.Backup.DefaultFormat
	}
	format, err := backup.ParseFormat(formatName)
	if err != nil {
		return err
	}
	from, err := parseDateFlag("from", createFrom)
	if err != nil {
		return err
	}
	to, err := parseDateFlag("to", createTo)
	if err != nil {
		return err
	}
	tableNames := splitList(createTables)
	if len(tableNames) == 0 {
		tableNames = globalRegistryNames()
	}

	art, err := globalService.CreateBackup(cmd.Context(), backup.ExportRequest{
		DateFrom: from,
		DateTo:   to,
		AllTime:  createAllTime,
		Tables:   tableNames,
		Format:   format,
	})
	if err != nil {
		return err
	}
	printDropped(art.Dropped)

	if createSave {
		entry, err := globalService.SaveArtifact(cmd.Context(), art, backup.SaveMetadata{
			DateFrom: from,
			DateTo:   to,
			Tables:   art.Tables,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Stored %s (%s) as %s\n", entry.FileName, humanize.Bytes(uint64(entry.FileSizeBytes)), entry.ID)
		return nil
	}

	if err := os.MkdirAll(createOut, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(createOut, art.Name)
	if err := os.WriteFile(path, art.Data, 0o640); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	fmt.Printf("Wrote %s (%s, %d tables)\n", path, humanize.Bytes(uint64(art.SizeBytes)), len(art.Tables))
	return nil
}

func newBackupSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save FILE",
		Short: "Store an existing artifact file in the backup catalog",
		Args:  cobra.ExactArgs(1),
		RunE:  backupSaveRun,
	}
	cmd.Flags().StringVar(&saveFormat, "format", "", "structured or tabular (inferred from the file when empty)")
	cmd.Flags().StringVar(&saveFrom, "from", "", "start of the date range the artifact covers (YYYY-MM-DD)")
	cmd.Flags().StringVar(&saveTo, "to", "", "end of the date range the artifact covers (YYYY-MM-DD)")
	cmd.Flags().StringVar(&saveTables, "tables", "", "comma-separated tables contained in the artifact")
	return cmd
}

func backupSaveRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	var format backup.Format
	if saveFormat != "" {
		if format, err = backup.ParseFormat(saveFormat); err != nil {
			return err
		}
	}
	from, err := parseDateFlag("from", saveFrom)
	if err != nil {
		return err
	}
	to, err := parseDateFlag("to", saveTo)
	if err != nil {
		return err
	}

	entry, err := globalService.SaveBackup(cmd.Context(), backup.SaveRequest{
		Data:     data,
		FileName: filepath.Base(args[0]),
		Format:   format,
		DateFrom: from,
		DateTo:   to,
		Tables:   splitList(saveTables),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Stored %s (%s) as %s\n", entry.FileName, humanize.Bytes(uint64(entry.FileSizeBytes)), entry.ID)
	return nil
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		RunE:  backupListRun,
	}
}

func backupListRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	entries, err := globalService.ListBackups(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No backups stored.")
		return nil
	}

	fmt.Printf("%-36s  %-40s  %-10s  %10s  %-23s  %s\n", "ID", "FILE", "TYPE", "SIZE", "RANGE", "CREATED")
	fmt.Println(strings.Repeat("-", 140))
	for _, e := range entries {
		fmt.Printf("%-36s  %-40s  %-10s  %10s  %-23s  %s\n",
			e.ID,
			e.FileName,
			e.FileType,
			humanize.Bytes(uint64(e.FileSizeBytes)),
			formatEntryRange(e),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	fmt.Printf("\n%d backups\n", len(entries))
	return nil
}

func newBackupDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download ID",
		Short: "Write a stored backup to disk",
		Args:  cobra.ExactArgs(1),
		RunE:  backupDownloadRun,
	}
	cmd.Flags().StringVar(&downloadOut, "out", ".", "directory to write the artifact to")
	return cmd
}

func backupDownloadRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	art, err := globalService.DownloadBackup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(downloadOut, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(downloadOut, filepath.Base(art.Name))
	if err := os.WriteFile(path, art.Data, 0o640); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	fmt.Printf("Wrote %s (%s)\n", path, humanize.Bytes(uint64(art.SizeBytes)))
	return nil
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored backup and its catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE:  backupDeleteRun,
	}
}

func backupDeleteRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}
	if err := globalService.DeleteBackup(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted backup %s\n", args[0])
	return nil
}

func newBackupImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Restore a structured backup file",
		Long: `Restore a structured (JSON) backup. In merge mode rows are upserted by
their identity column. In replace mode each table present in the file is
emptied and reloaded; this requires --confirm "REPLACE ALL DATA".

Tables are restored independently: a failing table is reported and the
remaining tables are still restored.`,
		Example: `  rollcall backup import backup-20240131-120000.json
  rollcall backup import backup-20240131-120000.json --mode replace --confirm "REPLACE ALL DATA"`,
		Args: cobra.ExactArgs(1),
		RunE: backupImportRun,
	}
	cmd.Flags().StringVar(&importMode, "mode", "merge", "merge or replace")
	cmd.Flags().StringVar(&importConfirm, "confirm", "", "confirmation phrase required for replace")
	return cmd
}

func backupImportRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	mode, err := backup.ParseMode(importMode)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	report, err := globalService.ImportBackup(cmd.Context(), backup.ImportRequest{
		Data:         data,
		Mode:         mode,
		Confirmation: importConfirm,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%-24s %10s %10s  %s\n", "TABLE", "APPLIED", "DELETED", "STATUS")
	fmt.Println(strings.Repeat("-", 70))
	for _, t := range report.Tables {
		status := "ok"
		if t.Err != nil {
			status = "FAILED: " + t.Err.Err.Error()
		}
		fmt.Printf("%-24s %10d %10d  %s\n", t.Table, t.Applied, t.Deleted, status)
	}
	fmt.Printf("\n%s\n", report.Summary())
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d table(s) failed to restore", len(failed))
	}
	return nil
}

func newBackupScheduledCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "Run one scheduled backup now and rotate old ones",
		Long: `Back up every table over the period window, store the artifact in the
catalog and remove the oldest scheduled backups beyond the retention count.
Suitable for running from cron when the server's scheduler is disabled.

Windows are whole calendar days and include today. Daily covers yesterday
and today, weekly the last 7 days plus today and monthly the same day last
month through today, so consecutive runs overlap by a day.`,
		Example: `  rollcall backup scheduled
  rollcall backup scheduled --period weekly --retention 4`,
		RunE: backupScheduledRun,
	}
	cmd.Flags().StringVar(&scheduledPeriod, "period", "", "daily, weekly, monthly or full (default: schedule.period)")
	cmd.Flags().IntVar(&scheduledRetention, "retention", 0, "scheduled backups to keep (default: schedule.retention)")
	return cmd
}

func backupScheduledRun(cmd *cobra.Command, args []string) error {
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	periodName := scheduledPeriod
	if periodName == "" {
		periodName = globalCfg.Schedule.Period
	}
	retention := scheduledRetention
	if retention == 0 {
		retention = globalCfg.Schedule.Retention
	}
	period, err := backup.ParsePeriod(periodName)
	if err != nil {
		return err
	}

	run, err := globalService.TriggerScheduledBackup(cmd.Context(), period, retention)
	if err != nil {
		return err
	}
	printDropped(run.Dropped)
	fmt.Printf("Stored %s (%s) as %s\n", run.Entry.FileName, humanize.Bytes(uint64(run.Entry.FileSizeBytes)), run.Entry.ID)
	if run.Retention != nil {
		fmt.Printf("Retention: kept %d, removed %d of %d\n", run.Retention.Kept, run.Retention.Removed, run.Retention.Targeted)
	}
	if run.RetentionErr != nil {
		fmt.Printf("Retention error: %v\n", run.RetentionErr)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func globalRegistryNames() []string {
	descs := globalService.Tables()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

func printDropped(dropped []*backup.TableError) {
	for _, d := range dropped {
		fmt.Fprintf(os.Stderr, "warning: table %s left out: %v\n", d.Table, d.Err)
	}
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, &backup.ValidationError{Field: name, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", value)}
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatEntryRange(e store.CatalogEntry) string {
	if !e.HasDateRange() {
		return "all time"
	}
	return e.DateRangeFrom.Format(time.DateOnly) + ".." + e.DateRangeTo.Format(time.DateOnly)
}
