package main

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/rollcall/internal/tables"
	"github.com/spf13/cobra"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables that can be backed up",
		RunE:  tablesRun,
	}
}

func tablesRun(cmd *cobra.Command, args []string) error {
	descs := tables.Program().All()

	fmt.Printf("%-24s %-14s %-9s %-14s %s\n", "NAME", "CATEGORY", "CRITICAL", "DATE COLUMN", "LABEL")
	fmt.Println(strings.Repeat("-", 80))
	for _, d := range descs {
		critical := ""
		if d.Critical {
			critical = "yes"
		}
		dateCol := d.TemporalKey
		if dateCol == "" {
			dateCol = "-"
		}
		fmt.Printf("%-24s %-14s %-9s %-14s %s\n", d.Name, d.Category, critical, dateCol, d.Label)
	}
	fmt.Printf("\n%d tables\n", len(descs))
	return nil
}
