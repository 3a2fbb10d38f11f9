package main

import (
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"structwatch/internal/storage"
)

// baselineCommand выводит сохранённые отпечатки целей
func (c *cli) baselineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "baseline",
		Short: "Show the stored fingerprint of every target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			store := storage.NewFileBaseline(storage.PathsFor(cfg.GetStateDir()).Baseline)
			if err := store.Load(); err != nil {
				return err
			}
			entries := store.Snapshot()

			// Лишние цели помечаются, цели без отпечатка тоже попадают в таблицу
			configured := make(map[string]string, len(cfg.Targets))
			for _, t := range cfg.Targets {
				configured[t.ID] = t.URL
			}

			ids := make([]string, 0, len(entries))
			for id := range entries {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			t := table.NewWriter()
			t.SetOutputMirror(c.out)
			t.AppendHeader(table.Row{"Target", "URL", "Fingerprint"})
			for _, id := range ids {
				url, ok := configured[id]
				if !ok {
					url = "(not configured)"
				}
				t.AppendRow(table.Row{id, url, entries[id]})
			}
			for _, target := range cfg.Targets {
				if _, ok := entries[target.ID]; !ok {
					t.AppendRow(table.Row{target.ID, target.URL, "(no baseline yet)"})
				}
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
}
