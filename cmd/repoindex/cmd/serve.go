package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/async"
	"github.com/Aman-CERP/repoindex/internal/embed"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/mcp"
	"github.com/Aman-CERP/repoindex/internal/pathfilter"
	"github.com/Aman-CERP/repoindex/internal/search"
	"github.com/Aman-CERP/repoindex/internal/telemetry"
	"github.com/Aman-CERP/repoindex/internal/watcher"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the index to AI clients over MCP (stdio)",
		Long: `Start the MCP bridge on stdin/stdout. It exposes the query_index and
index_status tools and keeps the index fresh in the background: a missing
index is built on startup, and incremental passes run at most once per
refresh interval, sooner when file changes are observed.

Only JSON-RPC is written to stdout. Logs go to the log file (--debug) or
stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g)
		},
	}
}

func runServe(ctx context.Context, g *globalOptions) error {
	p, err := g.resolveProject()
	if err != nil {
		return err
	}
	cfg := p.cfg

	provider := embed.NewProvider(cfg.Index.Model)
	defer func() { _ = provider.Close() }()

	analytics := telemetry.NewStore(p.layout.Analytics(), p.layout.AnalyticsLock())
	progress := async.NewProgress()

	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		RootPath: p.root,
		Config:   cfg,
		Provider: provider,
		Progress: progress.Observe,
	})
	if err != nil {
		return err
	}

	retriever, err := search.NewRetriever(p.layout, provider,
		search.WithOptions(search.Options{
			Threshold:     cfg.Retrieval.Threshold,
			ContextBudget: cfg.Retrieval.ContextBudget,
			DefaultK:      cfg.Retrieval.DefaultK,
			Metric:        cfg.Index.Metric,
		}),
		search.WithAnalytics(analytics),
	)
	if err != nil {
		return err
	}

	sched := async.NewScheduler(async.SchedulerConfig{
		Layout:          p.layout,
		Enabled:         cfg.Index.Enabled,
		MinInterval:     cfg.Refresh.Interval(),
		MaxFilesPerPass: cfg.Refresh.MaxFilesPerPass,
		Trigger:         coord.Build,
		Analytics:       analytics,
		Progress:        progress,
	})

	srv, err := mcp.NewServer(retriever, p.layout)
	if err != nil {
		return err
	}
	srv.SetScheduler(sched)
	if !cfg.Retrieval.Enabled {
		srv.DisableRetrieval()
	}

	if sched.FirstRun(ctx) {
		slog.Info("initial_build_started", slog.String("root", p.root))
	}
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Refresh.Watch && cfg.Index.Enabled {
		reload := func() (*pathfilter.Filter, error) { return index.NewFilter(p.root, cfg) }
		filter, err := reload()
		if err != nil {
			return err
		}
		w, err := watcher.New(p.root, filter, watcher.Options{
			Debounce: cfg.Refresh.DebounceWindow(),
			OnChange: func(events []watcher.Event) {
				slog.Debug("changes_observed", slog.Int("events", len(events)))
				sched.Notify()
			},
			Reload: reload,
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	slog.Info("serving", slog.String("root", p.root), slog.String("transport", "stdio"))
	return srv.Serve(ctx)
}
