package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"poseflow/internal/poses"
)

type recordView struct {
	Identity    string         `json:"identity"`
	OriginPath  string         `json:"origin_path"`
	CurrentPath string         `json:"current_path"`
	Scores      map[string]any `json:"scores,omitempty"`
}

func newShowCommand() *cobra.Command {
	var (
		format     string
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:         "show <table>",
		Short:       "Print a pose table",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadTable(args[0], format)
			if err != nil {
				return err
			}
			records := store.Records()
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			if jsonOutput {
				views := make([]recordView, 0, len(records))
				for _, rec := range records {
					view := recordView{Identity: rec.Identity, OriginPath: rec.OriginPath, CurrentPath: rec.CurrentPath}
					for name, value := range rec.Scores {
						if value.IsMissing() {
							continue
						}
						if view.Scores == nil {
							view.Scores = make(map[string]any)
						}
						view.Scores[name] = value.Interface()
					}
					views = append(views, view)
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "Table is empty")
				return nil
			}
			cols, rows := recordTable(store.Columns(), records)
			newReport(out).table(cols, rows)
			if len(records) < store.Len() {
				fmt.Fprintf(out, "Showing %d of %d poses\n", len(records), store.Len())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Table format (default: from the file extension)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output records as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n poses")
	return cmd
}

func recordTable(columns []poses.Column, records []poses.Record) ([]column, [][]string) {
	cols := []column{{title: "Identity"}, {title: "Current Path"}}
	for _, col := range columns {
		cols = append(cols, column{title: col.Name, numeric: col.Kind == poses.KindNumber})
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := []string{rec.Identity, rec.CurrentPath}
		for _, col := range columns {
			row = append(row, rec.Value(col.Name).String())
		}
		rows = append(rows, row)
	}
	return cols, rows
}
