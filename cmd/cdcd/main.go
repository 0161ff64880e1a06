// Command cdcd is the replication engine's entrypoint: it loads a
// configuration file (§6.2), builds a driver.Registry, resolves every
// replicator's bindings, and exposes run/sync/list/enable/disable as
// cobra subcommands — the C9 plugin surface's CLI front end. Replaces
// the teacher's single flag-based cmd/replicator binary with a
// subcommand tree, grounded on ipiton-alert-history-service's
// cobra.Command root/subcommand layout, since §4.9's plugin surface
// is naturally a handful of distinct operations rather than one
// long-running mode with flags bolted on.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/s3db-tools/cdc-replicator/pkg/bus"
	"github.com/s3db-tools/cdc-replicator/pkg/config"
	"github.com/s3db-tools/cdc-replicator/pkg/drivers"
	"github.com/s3db-tools/cdc-replicator/pkg/mapping"
	"github.com/s3db-tools/cdc-replicator/pkg/metrics"
	"github.com/s3db-tools/cdc-replicator/pkg/plugin"
	"github.com/s3db-tools/cdc-replicator/pkg/replog"
	"github.com/s3db-tools/cdc-replicator/pkg/source"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "cdcd",
		Short:   "Change-data-capture replication engine",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path")

	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newEnableCmd())
	root.AddCommand(newDisableCmd())
	root.AddCommand(newSyncCmd())
	return root
}

// setupLogging configures zerolog's global level from cfg.LogLevel,
// matching the teacher's LoadConfiguration zerolog wiring.
func setupLogging(cfg *config.Config) {
	level := zerolog.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "silent":
		level = zerolog.Disabled
	}
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

// bootstrap is everything every subcommand needs: a loaded config, a
// driver registry, the event bus, and logging wired up.
type bootstrap struct {
	cfg     *config.Config
	loader  *config.Loader
	events  *bus.Bus
	logger  replog.Logger
	dlq     replog.DeadLetterStore
	telemet *metrics.TelemetryManager
}

func newBootstrap() (*bootstrap, error) {
	loader, err := config.NewLoader(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg := loader.Config()
	setupLogging(cfg)

	tm, err := metrics.NewTelemetryManager(metrics.DefaultTelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	events := bus.New()

	b := &bootstrap{
		cfg:     cfg,
		loader:  loader,
		events:  events,
		logger:  replog.NewMemoryLogger(),
		dlq:     replog.NewMemoryDeadLetterStore(),
		telemet: tm,
	}
	return b, nil
}

// buildPlugin constructs a plugin.Plugin with every configured
// replicator registered, driver instances built through the C3
// registry, and resources resolved through C5.
func (b *bootstrap) buildPlugin(ctx context.Context, src source.EventSource, enumerator source.RecordEnumerator) (*plugin.Plugin, error) {
	reg := drivers.NewRegistry()

	p := plugin.New(src, enumerator, b.cfg.EngineConfig(), b.events, b.logger, b.dlq, b.cfg.PersistReplicatorLog, b.cfg.LogErrors)

	for _, rc := range b.cfg.Replicators {
		drv, err := reg.Build(rc.Driver, rc.ID, rc.Config)
		if err != nil {
			return nil, fmt.Errorf("replicator %q: %w", rc.ID, err)
		}

		raw, err := mapping.DecodeResources(rc.ID, rc.Resources)
		if err != nil {
			return nil, err
		}
		bindings, err := mapping.Resolve(mapping.ReplicatorSpec{ID: rc.ID, Resources: raw})
		if err != nil {
			return nil, err
		}

		p.Register(rc.ID, bindings, drv, rc.Enabled)
	}

	return p, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the replication engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := b.telemet.Start(ctx); err != nil {
				return err
			}
			b.telemet.Subscribe(ctx, b.events)
			defer b.telemet.Stop(context.Background())

			src := source.NewFake()
			p, err := b.buildPlugin(ctx, src, src)
			if err != nil {
				return err
			}

			b.loader.OnChange(func(cfg *config.Config) {
				log.Warn().Msg("configuration changed; restart cdcd to apply replicator/driver changes")
			})
			b.loader.Watch()

			log.Info().Strs("replicators", p.List()).Msg("starting replication engine")
			if err := p.Start(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			<-ctx.Done()
			return p.Stop(context.Background())
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured replicators and their enabled state",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBootstrap()
			if err != nil {
				return err
			}
			src := source.NewFake()
			p, err := b.buildPlugin(cmd.Context(), src, src)
			if err != nil {
				return err
			}
			for _, id := range p.List() {
				enabled, _ := p.Enabled(id)
				fmt.Printf("%s\tenabled=%t\n", id, enabled)
			}
			return nil
		},
	}
}

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <replicator-id>",
		Short: "Enable a replicator",
		Args:  cobra.ExactArgs(1),
		RunE:  toggleReplicatorCmd(true),
	}
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <replicator-id>",
		Short: "Disable a replicator",
		Args:  cobra.ExactArgs(1),
		RunE:  toggleReplicatorCmd(false),
	}
}

func toggleReplicatorCmd(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := newBootstrap()
		if err != nil {
			return err
		}
		src := source.NewFake()
		p, err := b.buildPlugin(cmd.Context(), src, src)
		if err != nil {
			return err
		}
		id := args[0]
		if enabled {
			err = p.Enable(id)
		} else {
			err = p.Disable(id)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: enabled=%t\n", id, enabled)
		return nil
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <replicator-id>",
		Short: "Manually backfill every bound resource for one replicator (§4.9)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := newBootstrap()
			if err != nil {
				return err
			}
			src := source.NewFake()
			p, err := b.buildPlugin(cmd.Context(), src, src)
			if err != nil {
				return err
			}

			report, err := p.Sync(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("replicator=%s records=%d failed=%d\n",
				report.ReplicatorID, report.RecordsProcessed, report.Failures)
			return nil
		},
	}
}

