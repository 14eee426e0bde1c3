// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/config"
	"github.com/holomush/botcmd/internal/logging"
	"github.com/holomush/botcmd/internal/observability"
	"github.com/holomush/botcmd/internal/script"
	"github.com/holomush/botcmd/internal/store"
	"github.com/holomush/botcmd/internal/transport"
	"github.com/holomush/botcmd/internal/transport/console"
	"github.com/holomush/botcmd/internal/transport/discord"
	"github.com/holomush/botcmd/internal/transport/telegram"
	"github.com/holomush/botcmd/internal/xdg"
)

const shutdownTimeout = 5 * time.Second

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// StoreOpener opens the cooldown store.
	// Default: store.Open
	StoreOpener func(ctx context.Context, opts store.Options) (store.Backend, error)

	// TransportFactory builds the chat transport named by cfg.Transport.
	// Default: newTransport
	TransportFactory func(cfg *config.Config, d transport.Dispatcher, logger *slog.Logger, in io.Reader, out io.Writer) (transport.Runner, error)
}

// NewRunCmd creates the run subcommand.
func NewRunCmd(root *rootOptions, deps *RunDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		Long: `Start the bot on the configured transport. Commands are registered from
the config file and the scripts directory before the transport connects.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			return runWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}

	config.BindFlags(cmd.Flags())
	return cmd
}

// runWithDeps runs the bot until a signal arrives or the transport stops.
func runWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.StoreOpener == nil {
		deps.StoreOpener = store.Open
	}
	if deps.TransportFactory == nil {
		deps.TransportFactory = newTransport
	}

	// Packages that log through slog.Default, such as the registry, share
	// this configuration.
	logger := logging.SetDefault("botcmd", version, logging.Options{
		Format:  cfg.LogFormat,
		Verbose: cfg.Verbose,
		Writer:  cmd.ErrOrStderr(),
	})

	if cfg.Store.Driver == store.DriverSQLite && cfg.Store.Path != ":memory:" {
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
			return err
		}
	}
	backend, err := deps.StoreOpener(ctx, cfg.StoreOptions())
	if err != nil {
		return oops.In("run").With("driver", cfg.Store.Driver).Wrapf(err, "open cooldown store")
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Warn("error closing cooldown store", "error", closeErr)
		}
	}()
	logger.Info("cooldown store ready", "driver", cfg.Store.Driver)

	var obsServer *observability.Server
	opts := []command.DispatcherOption{
		command.WithPrefix(cfg.Prefix),
		command.WithReleaseTimeout(time.Duration(cfg.ReleaseTimeout)),
		command.WithVerbose(cfg.Verbose),
		command.WithLogger(logger),
		command.WithUserErrorReplies(cfg.UserErrors),
		command.WithCooldownTracker(command.NewCooldownTracker(backend)),
		command.WithCooldownHandler(cooldownReplier(logger)),
	}

	var runner transport.Runner
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			return runner != nil && runner.Ready()
		}, logger)
		command.RegisterMetrics(obsServer.Registerer())
	}

	if cfg.RateLimit.Burst > 0 {
		rlCfg := command.RateLimiterConfig{
			BurstCapacity: cfg.RateLimit.Burst,
			SustainedRate: cfg.RateLimit.Rate,
		}
		if obsServer != nil {
			rlCfg.Registerer = obsServer.Registerer()
		}
		rl := command.NewRateLimiter(rlCfg)
		defer rl.Close()
		opts = append(opts, command.WithRateLimiter(rl))
	}

	dispatcher, err := command.NewDispatcher(command.NewRegistry(), opts...)
	if err != nil {
		return err
	}
	if err := registerCommands(ctx, cfg, dispatcher, backend, logger); err != nil {
		return err
	}

	runner, err = deps.TransportFactory(cfg, dispatcher, logger, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.In("run").Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	logger.Info("bot starting",
		"transport", cfg.Transport,
		"prefix", cfg.Prefix,
		"commands", len(dispatcher.Registry().All()),
	)
	if err := runner.Run(ctx); err != nil {
		return oops.In("run").With("transport", cfg.Transport).Wrapf(err, "transport stopped")
	}
	logger.Info("shutdown complete")
	return nil
}

// registerCommands registers the config-declared reply commands, then the
// Lua scripts.
func registerCommands(ctx context.Context, cfg *config.Config, d *command.Dispatcher, backend store.Backend, logger *slog.Logger) error {
	if err := d.Register(cfg.ReplyCommands()...); err != nil {
		return err
	}

	dir := cfg.ScriptsDir
	if dir == "" {
		dir = xdg.ScriptsDir()
	}
	loader := script.NewLoader(script.WithStore(backend), script.WithLogger(logger))
	scripts, err := loader.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	return d.Register(scripts...)
}

// cooldownReplier tells the caller how long to wait.
func cooldownReplier(logger *slog.Logger) command.CooldownHandler {
	return func(ctx context.Context, msg command.Message, cmd command.Command, left command.TimeLeft) {
		text := fmt.Sprintf("Please wait %s before using %s again.", left, cmd.Name())
		if err := msg.Reply(ctx, text); err != nil {
			logger.DebugContext(ctx, "cooldown reply failed", "command", cmd.Name(), "error", err)
		}
	}
}

// newTransport builds the transport named by cfg.Transport.
func newTransport(cfg *config.Config, d transport.Dispatcher, logger *slog.Logger, in io.Reader, out io.Writer) (transport.Runner, error) {
	switch cfg.Transport {
	case transport.Discord:
		return discord.New(cfg.Secrets.DiscordToken, d, logger)
	case transport.Telegram:
		return telegram.New(cfg.Secrets.TelegramToken, d, logger)
	case transport.Console:
		return console.New(in, out, d, logger, console.Options{}), nil
	default:
		return nil, oops.Code(config.CodeInvalidConfig).With("transport", cfg.Transport).Errorf("unknown transport %q", cfg.Transport)
	}
}

// monitorServerErrors cancels ctx when the server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
