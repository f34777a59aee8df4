// Package cmd defines the CLI commands of the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
)

const closeTimeout = 30 * time.Second

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// newRootCmd creates the root command. opts are passed to every app.Build,
// which lets tests swap the catalog client.
func newRootCmd(opts ...app.Option) *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Concurrent, resumable crawler for an app catalog.",
		Long: `catalog-crawler discovers app ids from charts, search terms and related
items, then downloads item metadata and packages. Every crawl checkpoints its
progress and resumes from the last snapshot when run again.`,
		SilenceUsage: true,

		// Runs before every subcommand: loads file, env and flag values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("locale", "en_US", "catalog locale")
	flags.String("timezone", "UTC", "catalog timezone")
	flags.String("device", "px_3a", "device profile to log in as")
	flags.Duration("delay", 510*time.Millisecond, "minimum delay between two requests of one worker")
	flags.Int("threads", 2, "number of parallel workers")
	flags.StringP("verbosity", "v", "info", "log level: warning, info or debug")
	flags.String("listen", "", "address of the status server, e.g. :8080 (disabled when empty)")
	bindFlags(v, flags, map[string]string{
		"catalog.locale":   "locale",
		"catalog.timezone": "timezone",
		"catalog.device":   "device",
		"catalog.delay":    "delay",
		"crawler.workers":  "threads",
		"logging.level":    "verbosity",
		"server.listen":    "listen",
	})

	cmd.AddCommand(
		newChartsCmd(opts),
		newSearchCmd(opts),
		newRelatedCmd(opts),
		newMetadataCmd(opts),
		newPackagesCmd(opts),
	)
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// Execute is the main entry point. Credentials may come from a .env file in
// the working directory; real environment variables take precedence.
func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// runWithApp builds the services for the crawl named output, serves status
// while run executes and tears everything down afterwards. An interrupted
// crawl is not an error: its checkpoint is resumed by the next invocation.
func runWithApp(cmd *cobra.Command, opts []app.Option, output string, run func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, output, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	logger := a.Logger()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	serveCtx, stopServe := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- a.Serve(serveCtx) }()

	runErr := run(ctx, a)

	stopServe()
	if serr := <-served; serr != nil {
		logger.Warn("status server failed", zap.Error(serr))
	}
	if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		logger.Info("crawl interrupted, rerun the same command to resume")
		return nil
	}
	return runErr
}
