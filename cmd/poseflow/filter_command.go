package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"poseflow/internal/poses"
)

func newFilterCommand() *cobra.Command {
	var (
		format    string
		outPath   string
		outFormat string
		has       []string
		above     []string
		below     []string
		topColumn string
		topN      int
		ascending bool
	)

	cmd := &cobra.Command{
		Use:   "filter <table>",
		Short: "Write the poses of a table that pass the given criteria",
		Long: "Filter keeps poses that have every --has column, exceed every --above threshold\n" +
			"and fall under every --below threshold. --top then keeps the best n survivors.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadTable(args[0], format)
			if err != nil {
				return err
			}

			var preds []poses.Predicate
			for _, column := range has {
				preds = append(preds, poses.HasValue(strings.TrimSpace(column)))
			}
			for _, expr := range above {
				column, threshold, err := parseThreshold(expr)
				if err != nil {
					return fmt.Errorf("--above: %w", err)
				}
				preds = append(preds, poses.NumberAbove(column, threshold))
			}
			for _, expr := range below {
				column, threshold, err := parseThreshold(expr)
				if err != nil {
					return fmt.Errorf("--below: %w", err)
				}
				preds = append(preds, poses.NumberBelow(column, threshold))
			}

			filtered := store.Filter(poses.All(preds...))
			if strings.TrimSpace(topColumn) != "" {
				if topN <= 0 {
					return fmt.Errorf("--top must be positive when --top-column is set")
				}
				filtered, err = filtered.TopN(topColumn, topN, ascending)
				if err != nil {
					return err
				}
			}

			if err := saveTable(filtered, outPath, outFormat); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kept %d of %d poses in %s\n", filtered.Len(), store.Len(), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Input table format (default: from the file extension)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Table to write")
	cmd.Flags().StringVar(&outFormat, "out-format", "", "Output table format (default: from the --out extension)")
	cmd.Flags().StringSliceVar(&has, "has", nil, "Require a value in this column (repeatable)")
	cmd.Flags().StringSliceVar(&above, "above", nil, "Require column > value, as column=value (repeatable)")
	cmd.Flags().StringSliceVar(&below, "below", nil, "Require column < value, as column=value (repeatable)")
	cmd.Flags().StringVar(&topColumn, "top-column", "", "Numeric column to rank by")
	cmd.Flags().IntVar(&topN, "top", 0, "Keep the n best-ranked poses")
	cmd.Flags().BoolVar(&ascending, "ascending", false, "Rank lowest values first")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func parseThreshold(expr string) (string, float64, error) {
	column, raw, ok := strings.Cut(expr, "=")
	column = strings.TrimSpace(column)
	if !ok || column == "" {
		return "", 0, fmt.Errorf("expected column=value, got %q", expr)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", 0, fmt.Errorf("threshold for %s: %w", column, err)
	}
	return column, value, nil
}
