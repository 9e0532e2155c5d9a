package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stock-alert/internal/api"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the refresh scheduler",
		Long: `Serve the HTTP API and run scheduled bulk refreshes.

A run left in progress by a previous process is marked interrupted at
startup. Periodic runs use the configured fire times in the market time
zone, or the refresh interval when no fire times are set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx, cmd)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("no-schedule", false, "serve the API without periodic runs")
	return cmd
}

func (a *App) serve(ctx context.Context, cmd *cobra.Command) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.Config.Server.Addr = addr
	}
	if off, _ := cmd.Flags().GetBool("no-schedule"); off {
		a.Config.Scheduler.Enabled = false
	}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Scheduler.Start(ctx); err != nil {
		return err
	}

	srv := api.NewServer(api.Deps{
		Store:     rt.Store,
		Scheduler: rt.Scheduler,
		Cache:     rt.Cache,
		Calendar:  rt.Calendar,
		Metrics:   rt.Metrics,
		Health:    rt.HealthChecker(a.Config.Scheduler.RunTimeout),
		Config:    a.Config,
		Provider:  rt.Gateway.Provider().Name(),
		Events:    rt.Events,
	}, a.Logger)

	a.Logger.Info().
		Str("provider", rt.Gateway.Provider().Name()).
		Bool("provider_ready", rt.Gateway.Ready()).
		Str("market_tz", rt.Calendar.Location().String()).
		Strs("channels", rt.Notifier.Channels()).
		Msg("Starting stock alert service")

	return srv.ListenAndServe(ctx, a.Config.Server.Addr)
}
