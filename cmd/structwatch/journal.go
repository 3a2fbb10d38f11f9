package main

import (
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"structwatch/internal/report"
	"structwatch/internal/storage"
)

// journalCommand выводит последние отчёты журнала таблицей.
// Старые записи без run_id показываются с пустой колонкой
func (c *cli) journalCommand() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent run reports from the change journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			entries, err := storage.NewFileJournal(storage.PathsFor(cfg.GetStateDir()).Journal).Entries()
			if err != nil {
				return err
			}
			// Только последние --last записей
			if last > 0 && len(entries) > last {
				entries = entries[len(entries)-last:]
			}

			t := table.NewWriter()
			t.SetOutputMirror(c.out)
			t.AppendHeader(table.Row{"Detected at", "Status", "Changed", "Skipped", "Run ID"})
			for _, r := range entries {
				t.AppendRow(table.Row{
					r.DetectionTime.Local().Format(time.DateTime),
					string(r.Status),
					changedPages(r),
					r.Count(report.OutcomeSkipped),
					r.RunID,
				})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&last, "last", 10, "number of most recent runs to show (0 for all)")
	return cmd
}

func changedPages(r *report.RunReport) string {
	if len(r.DetectedChanges) == 0 {
		return "-"
	}
	pages := make([]string, 0, len(r.DetectedChanges))
	for _, ev := range r.DetectedChanges {
		pages = append(pages, ev.Page)
	}
	return strings.Join(pages, ", ")
}
