package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"poseflow/internal/poses"
)

func newIngestCommand() *cobra.Command {
	var (
		dir          string
		suffix       string
		outPath      string
		format       string
		disambiguate bool
	)

	cmd := &cobra.Command{
		Use:         "ingest [files...]",
		Short:       "Create a pose table from files or a directory",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := poses.IngestOptions{Disambiguate: disambiguate}

			var (
				store *poses.Store
				err   error
			)
			switch {
			case strings.TrimSpace(dir) != "" && len(args) > 0:
				return errors.New("pass either --dir or file arguments, not both")
			case strings.TrimSpace(dir) != "":
				store, err = poses.IngestDir(dir, suffix, opts)
			case len(args) > 0:
				store, err = poses.Ingest(args, opts)
			default:
				return errors.New("no inputs: pass files or --dir")
			}
			if err != nil {
				return err
			}

			if err := saveTable(store, outPath, format); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d poses into %s\n", store.Len(), outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to ingest")
	cmd.Flags().StringVar(&suffix, "suffix", ".pdb", "File suffix to match with --dir")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Table to write")
	cmd.Flags().StringVar(&format, "format", "", "Table format (default: from the --out extension)")
	cmd.Flags().BoolVar(&disambiguate, "disambiguate", false, "Suffix colliding identities instead of failing")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
