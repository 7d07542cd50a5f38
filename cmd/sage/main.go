package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/app"
	"github.com/Ramsey-B/sage/pkg/tracing"
	"github.com/Ramsey-B/sage/pkg/tracing/exporters"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "sage",
		Short:         "Freight dispatch core: postings, hunt plans, matches, bookings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads config, the logger and tracing, then hands a signal-aware context to fn.
func run(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, sync, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, cfg.OTLPEnabled, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	return fn(ctx, app.New(cfg, logger, version))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, posting consumer and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				return a.Migrate(ctx)
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire matches on closed postings once and rebuild the count projection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				expired, err := a.Sweep(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("expired %d matches\n", expired)
				return nil
			})
		},
	}
}
