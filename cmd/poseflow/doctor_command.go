package main

import (
	"errors"

	"github.com/spf13/cobra"

	"poseflow/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check work directories and scheduler tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			r := newReport(cmd.OutOrStdout())
			r.section("Backend " + cfg.Jobs.Backend)
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				t := toneOK
				if !result.Passed {
					t = toneError
				}
				r.field(result.Name, t, result.Detail)
			}
			if !preflight.Passed(results) {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
}
