// Package cmd provides the CLI commands for repoindex.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/config"
	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/logging"
	"github.com/Aman-CERP/repoindex/internal/profiling"
	"github.com/Aman-CERP/repoindex/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	root    string
	debug   bool
	profile profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
	stderr         io.Writer
}

// project is a resolved project root with its configuration.
type project struct {
	root   string
	layout index.Layout
	cfg    *config.Config
}

// resolveProject finds the project root (--root or the nearest enclosing
// repository) and loads its configuration.
func (g *globalOptions) resolveProject() (*project, error) {
	var root string
	if g.root != "" {
		abs, err := filepath.Abs(g.root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve --root: %w", err)
		}
		st, err := os.Stat(abs)
		if err != nil || !st.IsDir() {
			return nil, ierrors.New(ierrors.ErrCodeFileNotFound, "project root is not a directory", err).
				WithDetail("root", abs)
		}
		root = abs
	} else {
		r, err := config.FindProjectRoot(".")
		if err != nil {
			return nil, err
		}
		root = r
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, "failed to load configuration", err).
			WithSuggestion("check " + config.ProjectConfigName)
	}
	if !g.debug && g.stderr != nil {
		slog.SetDefault(logging.NewConsoleLogger(g.stderr, cfg.LogLevel))
	}
	return &project{root: root, layout: index.NewLayout(root), cfg: cfg}, nil
}

// NewRootCmd creates the root command for the repoindex CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *globalOptions) {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "repoindex",
		Short: "Local semantic index of a code repository",
		Long: `repoindex builds a local vector index of a repository and retrieves the
snippets most relevant to a query, attaching them only when the best match
passes a confidence threshold.

Everything stays on disk under .repoindex/ in the project root.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("repoindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&g.root, "root", "", "Project root (default: nearest enclosing repository)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.repoindex/logs/")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return g.start(cmd)
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return g.stop()
	}

	cmd.AddCommand(newInitCmd(g))
	cmd.AddCommand(newBuildCmd(g))
	cmd.AddCommand(newQueryCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newVerifyCmd(g))
	cmd.AddCommand(newCleanCmd(g))
	cmd.AddCommand(newIgnoreCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newDoctorCmd(g))
	cmd.AddCommand(newEvalCmd(g))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd, g
}

// start sets up logging and profiling.
func (g *globalOptions) start(cmd *cobra.Command) error {
	if g.debug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		g.loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	} else {
		g.stderr = cmd.ErrOrStderr()
		slog.SetDefault(logging.NewConsoleLogger(g.stderr, "warn"))
	}

	if g.profile.Enabled() {
		s, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.profiler = s
	}
	return nil
}

// stop flushes profiles and closes the log file. It is safe to call twice.
func (g *globalOptions) stop() error {
	var err error
	if g.profiler != nil {
		err = g.profiler.Stop()
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		slog.Info("debug_logging_stopped")
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, g := newRootCmd()
	// PersistentPostRunE is skipped when a command fails.
	defer func() { _ = g.stop() }()

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprint(os.Stderr, ierrors.FormatForCLI(err))
		return ierrors.ExitCode(err)
	}
	return ierrors.ExitOK
}
