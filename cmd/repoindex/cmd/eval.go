package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/validation"
)

func newEvalCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "eval <queries.yaml>",
		Short: "Measure retrieval quality with a query set",
		Long: `Run a YAML query set against the index through the query_index tool.

Positive queries pass when one of their expected paths is among the
confident hits; negative queries pass when they are refused. Use it to
tune retrieval.threshold for a repository.

  positive:
    - id: retry
      query: how are failed requests retried
      expected: [internal/client/]
  negative:
    - query: zebra quantum pineapple`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.resolveProject()
			if err != nil {
				return err
			}
			set, err := validation.LoadQueries(args[0])
			if err != nil {
				return err
			}

			v, err := validation.NewValidator(cmd.Context(), p.root, p.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = v.Close() }()

			result := v.RunAll(cmd.Context(), set)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				result.PrintSummary(cmd.OutOrStdout())
			}

			if failed := result.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d queries failed", len(failed), len(result.Positive)+len(result.Negative))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}
