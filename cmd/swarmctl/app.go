package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swarm-console/internal/audit"
	"github.com/swarm-console/internal/commands"
	"github.com/swarm-console/internal/config"
	"github.com/swarm-console/internal/console"
	"github.com/swarm-console/internal/datagram"
	"github.com/swarm-console/internal/dispatch"
	"github.com/swarm-console/internal/maintenance"
	"github.com/swarm-console/internal/membership"
	"github.com/swarm-console/internal/transport"
)

// watchDebounce coalesces editor save bursts on the groups file
const watchDebounce = 250 * time.Millisecond

// app holds the components shared by every subcommand
type app struct {
	registry    *commands.CommandRegistry
	groups      *membership.Store
	broadcaster *transport.Broadcaster
	audit       *audit.Logger
	console     *console.Console
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	groups := membership.NewStore(cfg.Groups.File, logger.Named("groups"))
	if err := groups.Load(); err != nil {
		return nil, err
	}

	codec, err := datagram.NewCBORCodec(cfg.Console.SourceID)
	if err != nil {
		return nil, err
	}

	b := cfg.Network.Broadcast
	broadcaster, err := transport.NewBroadcaster(ctx, transport.Options{
		Address:    b.Address,
		Port:       b.Port,
		RatePerSec: b.RatePerSec,
		Burst:      b.Burst,
	}, logger.Named("transport"))
	if err != nil {
		return nil, err
	}

	a := &app{
		registry:    commands.NewDefaultRegistry(),
		groups:      groups,
		broadcaster: broadcaster,
	}

	// a nil *audit.Logger must not end up inside the interface
	var auditor dispatch.Auditor
	if cfg.Audit.Dir != "" {
		a.audit, err = audit.NewLogger(audit.Options{
			Dir:        cfg.Audit.Dir,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
			Compress:   cfg.Audit.Compress,
		})
		if err != nil {
			broadcaster.Close()
			return nil, err
		}
		auditor = a.audit
		logger.Info("Audit trail enabled",
			zap.String("file", a.audit.GetFilePath()),
			zap.String("session", a.audit.Session()))
	}

	dispatcher := dispatch.NewDispatcher(codec, broadcaster, auditor, logger.Named("dispatch"))
	a.console = console.New(a.registry, groups, dispatcher, console.Options{
		StrictGroups: cfg.Console.StrictGroups,
		QueueSize:    cfg.Console.QueueSize,
		Logger:       logger.Named("console"),
	})

	logger.Info("Swarm console ready",
		zap.String("destination", broadcaster.Destination()),
		zap.String("groups", groups.Path()),
		zap.Int("assignments", groups.Snapshot().Len()))
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if err := a.broadcaster.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withConsole runs fn while the console worker drains the queue
func (a *app) withConsole(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.console.Serve(gctx) })
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Groups.Watch {
		watcher, err := membership.NewWatcher(a.groups, watchDebounce)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	return a.withConsole(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)

		var server *maintenance.Server
		if cfg.Network.Maintenance.Port > 0 {
			server = maintenance.NewServer(cfg.Network.Maintenance, a.console, a.registry, logger.Named("maintenance"))
			g.Go(func() error { return server.ListenAndServe(gctx) })
		}

		fmt.Fprintf(cmd.OutOrStdout(), "swarm console: %d verbs, %d group assignments, type help\n",
			len(a.registry.List()), a.groups.Snapshot().Len())

		interactiveErr := a.console.Interactive(gctx, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Console.Prompt)
		if server != nil {
			server.Close()
		}
		if err := g.Wait(); err != nil {
			return err
		}
		return interactiveErr
	})
}

func runScripts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	err = a.withConsole(ctx, func(ctx context.Context) error {
		for _, path := range args {
			result, err := a.console.ExecScript(ctx, "cli", path, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d lines, %d failed\n", path, result.Lines, result.Failed)
			failed += result.Failed
		}
		return nil
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d script line(s) failed", failed)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.withConsole(ctx, func(ctx context.Context) error {
		return a.console.Exec(ctx, "cli", "sync_groups", cmd.OutOrStdout())
	})
}

func listVerbs(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, info := range commands.NewDefaultRegistry().Describe() {
		fmt.Fprintf(out, "%-12s %-10s %-36s %s\n", info.Verb, info.Code, info.Usage, info.Description)
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	codec, err := datagram.NewCBORCodec(cfg.Console.SourceID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	port := cfg.Network.Broadcast.Port
	logger.Info("Monitoring broadcast port", zap.Int("port", port))
	fmt.Fprintf(out, "listening on udp port %d, interrupt to stop\n", port)

	return transport.Listen(cmd.Context(), port, func(from net.Addr, payload []byte) {
		envelope, err := codec.Decode(payload)
		if err != nil {
			fmt.Fprintf(out, "%s: undecodable datagram (%d bytes): %v\n", from, len(payload), err)
			return
		}
		r := envelope.Record
		fmt.Fprintf(out, "%s: source %d %s %s -> %s (group %d)\n",
			from, envelope.Source, r.Code, r.FormatArgs(), r.Target(), r.Group)
	})
}
