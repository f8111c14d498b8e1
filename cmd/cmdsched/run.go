package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/doughall/cmdsched/internal/config"
	"github.com/doughall/cmdsched/internal/executor"
	"github.com/doughall/cmdsched/internal/history"
	"github.com/doughall/cmdsched/internal/logging"
	"github.com/doughall/cmdsched/internal/runner"
	"github.com/doughall/cmdsched/internal/shutdown"
	"github.com/doughall/cmdsched/internal/systemd"
	"github.com/doughall/cmdsched/internal/version"
	"github.com/doughall/cmdsched/internal/watch"
)

// shutdownSlack is added to the grace period for the overall shutdown timeout.
const shutdownSlack = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger := logging.SetupLogger(cfg.LogLevel, cfg.LogFormat)
			return runService(cmd.Context(), opts.configPath, cfg, logger)
		},
	}
}

// newExecutor builds the executor described by cfg.
func newExecutor(cfg *config.Config) *executor.Executor {
	exec := executor.New()
	if cfg.Shell != "" {
		exec.Shell = cfg.Shell
		exec.ShellFlag = executor.FlagFor(cfg.Shell)
	}
	exec.Timeout = cfg.TimeoutDuration()
	if cfg.Output == config.OutputDiscard {
		exec.Stdout = nil
		exec.Stderr = nil
	}
	return exec
}

func runService(parent context.Context, configPath string, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}

	logger.Info("cmdsched starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("build_time", version.BuildTime),
		slog.String("config_path", configPath),
		slog.String("commands_file", cfg.CommandsFile),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("grace_period", cfg.GracePeriod),
		slog.Bool("watch", cfg.Watch),
	)

	// Create shutdown context that listens for SIGTERM and SIGINT
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	coordinator := shutdown.NewCoordinator(logger)

	r := runner.New(afero.NewOsFs(), newExecutor(cfg), runner.Options{
		CommandsFile: cfg.CommandsFile,
		PoolSize:     cfg.PoolSize,
		GracePeriod:  cfg.GraceDuration(),
	}, logger)

	// History is optional: a journal that cannot be opened only disables it.
	if cfg.HistoryEnabled() {
		journal, err := history.Open(cfg.HistoryPath)
		if err != nil {
			logger.Warn("failed to open history journal, execution history disabled",
				slog.String("path", cfg.HistoryPath),
				slog.String("error", err.Error()),
			)
		} else {
			coordinator.Register("history", journal)
			r.SetJournal(journal)

			pruner := history.NewPruner(journal, cfg.HistoryKeep, logger)
			coordinator.Register("history-pruner", pruner)
			go pruner.Run(ctx)

			logger.Info("history journal initialized",
				slog.String("path", cfg.HistoryPath),
				slog.Int("keep", cfg.HistoryKeep),
			)
		}
	}

	if cfg.Watch {
		watcher := watch.New(cfg.CommandsFile, logger)
		r.SetReloadSource(watcher.Changes())
		r.SetReloadHooks(
			func() { systemd.NotifyReloading() },
			func() { systemd.NotifyReady() },
		)
		go watcher.Run(ctx)
	}

	// An unreadable commands file is the only fatal startup condition.
	if _, err := r.Start(); err != nil {
		logger.Error("failed to load commands file", slog.String("error", err.Error()))
		_ = coordinator.Shutdown(context.Background())
		return err
	}
	coordinator.Register("runner", r)

	systemd.NotifyReady()
	logger.Info("cmdsched ready")

	systemd.StartWatchdog(ctx, r.Healthy)

	go r.Serve(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, starting graceful shutdown")

	systemd.NotifyStopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GraceDuration()+shutdownSlack)
	defer cancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
