package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/embed"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/preflight"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
	"github.com/Aman-CERP/repoindex/internal/ui"
)

type buildOptions struct {
	force       bool
	model       string
	incremental bool
	maxFiles    int
	noTUI       bool
}

func newBuildCmd(g *globalOptions) *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build or refresh the index",
		Long: `Build the index of the project.

Without flags a full build runs only when the current index is missing or was
built with different settings; otherwise the changes since the last build are
applied. --force always rebuilds from scratch.

Examples:
  repoindex build
  repoindex build --incremental
  repoindex build --force --model hash-384`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), cmd, g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Discard the current index and rebuild from scratch")
	cmd.Flags().StringVar(&opts.model, "model", "", "Embedding model id (overrides configuration)")
	cmd.Flags().BoolVar(&opts.incremental, "incremental", false, "Apply only the changes since the last build (the default unless --force)")
	cmd.Flags().IntVar(&opts.maxFiles, "max-files", 0, "Cap changed files processed by an incremental build (0 = no cap)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain text progress instead of the interactive display")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, g *globalOptions, opts buildOptions) error {
	p, err := g.resolveProject()
	if err != nil {
		return err
	}
	if !p.cfg.Index.Enabled {
		return ierrors.New(ierrors.ErrCodeIndexDisabled, "indexing is disabled", nil).
			WithSuggestion("set index.enabled: true in .repoindex.yaml")
	}

	model := p.cfg.Index.Model
	if opts.model != "" {
		model = opts.model
	}

	checker := preflight.New(preflight.WithModel(model))
	if err := checker.Err(checker.RunRequired(p.root)); err != nil {
		return err
	}
	provider := embed.NewProvider(model)
	defer func() { _ = provider.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.ErrOrStderr(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithProjectDir(p.root),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		RootPath: p.root,
		Config:   p.cfg,
		Provider: provider,
		Progress: renderer.Update,
	})
	if err != nil {
		return err
	}

	analytics := telemetry.NewStore(p.layout.Analytics(), p.layout.AnalyticsLock())
	if err := analytics.RecordAttempt(ctx); err != nil {
		slog.Warn("analytics_update_failed", slog.String("error", err.Error()))
	}

	// The coordinator promotes to a full build when the index is missing
	// or incompatible.
	res, err := coord.Build(ctx, index.BuildOptions{
		Force:       opts.force,
		Model:       opts.model,
		Incremental: opts.incremental || !opts.force,
		MaxFiles:    opts.maxFiles,
	})
	if err != nil {
		renderer.Fail(err)
		return err
	}
	renderer.Complete(res)
	return nil
}
