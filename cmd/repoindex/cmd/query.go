package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/embed"
	"github.com/Aman-CERP/repoindex/internal/search"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
)

type queryOptions struct {
	k               int
	format          string
	snippets        bool
	threshold       float64
	noLineNumbers   bool
	lineNumberWidth int
	diff            bool
}

func newQueryCmd(g *globalOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the snippets most relevant to a query",
		Long: `Query the index. Results are printed only when the best match passes the
confidence threshold; otherwise the command reports that no information
matches.

Examples:
  repoindex query "retry backoff"
  repoindex query "where are sessions persisted" -k 3 --snippets
  repoindex query "config loading" --format json
  repoindex query "http handler" --threshold 0.6 --format xml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "k", "k", 0, "Maximum number of results (default from configuration)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json, xml")
	cmd.Flags().BoolVar(&opts.snippets, "snippets", false, "Include numbered snippet lines")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", -1, "Confidence threshold in [0,1] (default from configuration)")
	cmd.Flags().BoolVar(&opts.noLineNumbers, "no-line-numbers", false, "Omit line numbers from snippets")
	cmd.Flags().IntVar(&opts.lineNumberWidth, "line-number-width", search.DefaultLineNumberWidth, "Width of the line number gutter")
	cmd.Flags().BoolVar(&opts.diff, "diff", false, "Mark snippet lines as additions")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, g *globalOptions, text string, opts queryOptions) error {
	format, err := search.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.threshold > 1 {
		return fmt.Errorf("--threshold must be in [0,1], got %g", opts.threshold)
	}

	p, err := g.resolveProject()
	if err != nil {
		return err
	}

	provider := embed.NewProvider(p.cfg.Index.Model)
	defer func() { _ = provider.Close() }()

	ropts := search.Options{
		Threshold:     p.cfg.Retrieval.Threshold,
		ContextBudget: p.cfg.Retrieval.ContextBudget,
		DefaultK:      p.cfg.Retrieval.DefaultK,
		Metric:        p.cfg.Index.Metric,
	}
	if opts.threshold >= 0 {
		ropts.Threshold = opts.threshold
	}

	analytics := telemetry.NewStore(p.layout.Analytics(), p.layout.AnalyticsLock())
	retriever, err := search.NewRetriever(p.layout, provider,
		search.WithOptions(ropts),
		search.WithAnalytics(analytics),
	)
	if err != nil {
		return err
	}

	res, err := retriever.Query(ctx, text, opts.k)
	if err != nil {
		return err
	}

	return search.Render(cmd.OutOrStdout(), res, format, search.RenderOptions{
		Snippets:        opts.snippets,
		NoLineNumbers:   opts.noLineNumbers,
		LineNumberWidth: opts.lineNumberWidth,
		Diff:            opts.diff,
	})
}
