package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/output"
)

func newVerifyCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the index artifacts for corruption",
		Long: `Recompute the checksums of the index artifacts and check that vectors and
metadata correspond one to one. Nothing is repaired; run 'repoindex build
--force' to rebuild a corrupt index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.resolveProject()
			if err != nil {
				return err
			}
			if !p.layout.Exists() {
				return ierrors.New(ierrors.ErrCodeNoIndex, "no index found", nil).
					WithSuggestion("run 'repoindex build' first")
			}

			report, verr := index.Verify(p.layout.Dir)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				return verr
			}

			out := output.New(cmd.OutOrStdout())
			if report.OK {
				out.Successf("Index verified: %d files, %d chunks, %d vectors", report.Files, report.Chunks, report.Vectors)
				return nil
			}
			out.Errorf("Index is corrupt (%d problems)", len(report.Problems))
			for _, prob := range report.Problems {
				out.Statusf("", "%s: %s", prob.Kind, prob.Detail)
			}
			return verr
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	return cmd
}
