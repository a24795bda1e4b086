// Package cmd defines and implements the CLI commands for the diecast-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/app"
	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/config"
	"github.com/JakeFAU/diecast-crawler/internal/joblog"
)

// App is what the subcommands need from the service container. Tests swap
// in a fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Crawl(ctx context.Context, req catalog.RunRequest) (catalog.RunResult, error)
	Enrich(ctx context.Context, req catalog.EnrichRequest) ([]string, error)
	Logs(ctx context.Context, jobID string, afterTS int64, limit int) (joblog.Page, error)
	RunBackground(ctx context.Context)
	Handler() http.Handler
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg, nil)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diecast-crawler",
		Short: "Catalog crawler for die-cast model vendors.",
		Long: `diecast-crawler collects product pages from die-cast model vendors,
archives their images and keeps one reconciled row per model in the item store.
It can run a single crawl, enrich stored items through an annotation service,
print job logs, or serve all of that over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (environment variables use the CRAWLER_ prefix)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newEnrichCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// withApp builds the App for one command run and closes it when the run
// returns, successful or not.
func withApp(run func(cmd *cobra.Command, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfgFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		appInstance, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize application services: %w", err)
		}
		defer appInstance.Close()
		return run(cmd, appInstance)
	}
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
