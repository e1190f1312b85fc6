package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"catalog-harvester/internal/di"
	"catalog-harvester/internal/harvest"
	"catalog-harvester/internal/harvest/adapter/source"
	"catalog-harvester/internal/harvest/config"
	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/shared/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cliFlags override values loaded from the environment.
type cliFlags struct {
	envFile     string
	harvester   string
	dryRun      bool
	concurrency int
	rps         int
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "catalog-harvester",
		Short: "Harvest open-data catalogs into a PortalJS Cloud portal",
		Long: `Fetches every dataset from the configured source catalog, provisions the
organizations and groups it needs, mirrors source-hosted files into blob
storage and upserts the datasets into the target CKAN action API.

Configuration is read from the environment (and a .env file when present).
Running without a subcommand is the same as "run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&flags.harvester, "harvester", "", "harvester name (overrides HARVESTER_NAME)")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "log payloads instead of writing to the target (overrides DRY_RUN)")
	pf.IntVar(&flags.concurrency, "concurrency", 0, "records processed in parallel (overrides CONCURRENCY)")
	pf.IntVar(&flags.rps, "rps", 0, "record starts per second (overrides RATE_LIMIT_RPS)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run one harvest",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHarvest(cmd, flags)
			},
		},
		&cobra.Command{
			Use:   "patch-sources",
			Short: "Backfill the source link of already harvested datasets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return patchSources(cmd, flags)
			},
		},
		&cobra.Command{
			Use:   "sources",
			Short: "List the available harvesters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return listSources(cmd, source.DefaultRegistry())
			},
		},
	)
	return root
}

// loadConfig reads .env, the environment and then the command line flags.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (*config.HarvestConfig, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", flags.envFile, err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("harvester") {
		cfg.HarvesterName = flags.harvester
	}
	if changed("dry-run") {
		cfg.DryRun = flags.dryRun
	}
	if changed("concurrency") {
		cfg.Scheduler.Concurrency = flags.concurrency
	}
	if changed("rps") {
		cfg.Scheduler.RateLimitRPS = flags.rps
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.HarvestConfig) logger.Logger {
	log := logger.New(logger.Config{
		Backend:     cfg.Log.Backend,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Log.Environment,
	})
	logger.SetDefault(log)
	return log
}

// runContext is cancelled on SIGINT/SIGTERM and after RUN_TIMEOUT when set.
func runContext(cfg *config.HarvestConfig) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if cfg.RunTimeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newContainer(ctx context.Context, cmd *cobra.Command, flags *cliFlags) (*di.Container, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	container := di.NewContainer(cfg, newLogger(cfg))
	if err := container.InitializeHarvest(ctx, harvest.Components{}); err != nil {
		return nil, err
	}
	return container, nil
}

func runHarvest(cmd *cobra.Command, flags *cliFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	ctx, cancel := runContext(cfg)
	defer cancel()

	container := di.NewContainer(cfg, newLogger(cfg))
	if err := container.InitializeHarvest(ctx, harvest.Components{}); err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			container.Logger.Errorf("Failed to close container: %v", err)
		}
	}()

	module := container.GetHarvestModule()
	if err := module.Start(); err != nil {
		return err
	}

	report, err := module.Run(ctx)
	if report != nil {
		printSummary(cmd, report)
	}
	if err != nil {
		return fmt.Errorf("harvest run failed: %w", err)
	}
	return nil
}

func patchSources(cmd *cobra.Command, flags *cliFlags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	container, err := newContainer(ctx, cmd, flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			container.Logger.Errorf("Failed to close container: %v", err)
		}
	}()

	started := time.Now()
	result, err := container.GetHarvestModule().PatchSources(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Patched %d datasets, skipped %d, failed %d in %s\n",
		result.Updated, result.Skipped, result.Failed, time.Since(started).Round(time.Millisecond))
	return err
}

func listSources(cmd *cobra.Command, registry *source.Registry) error {
	out := cmd.OutOrStdout()
	for _, name := range registry.Names() {
		aliases := registry.Aliases(name)
		if len(aliases) == 0 {
			fmt.Fprintln(out, name)
			continue
		}
		fmt.Fprintf(out, "%s (aliases: %s)\n", name, strings.Join(aliases, ", "))
	}
	return nil
}

func printSummary(cmd *cobra.Command, report *model.RunReport) {
	s := report.Stats
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, s.Summary())
	fmt.Fprintf(out, "run=%s, status=%s, filtered=%d, mirrored=%d, degraded=%d\n",
		report.RunID, report.Status, s.Filtered, s.Mirrored, s.MirrorDegraded)
	if len(report.Orphans) > 0 {
		fmt.Fprintf(out, "%d target datasets were not produced by this run\n", len(report.Orphans))
	}
}
