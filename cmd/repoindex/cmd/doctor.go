package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/preflight"
)

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the project can be indexed",
		Long: `Run the system checks: free disk space, write access to the project root,
the open file limit, the configuration and the encoder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.resolveProject()
			if err != nil {
				return err
			}
			checker := preflight.New(
				preflight.WithModel(p.cfg.Index.Model),
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
			)
			results := checker.RunAll(cmd.Context(), p.root)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return ierrors.New(ierrors.ErrCodeInternal, "system check failed", checker.Err(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")
	return cmd
}
