package cli

import (
	"time"

	"github.com/spf13/cobra"

	"stock-alert/internal/models"
	"stock-alert/internal/notify"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Refresh every watched symbol once",
		Long: `Run one bulk refresh in the foreground. Alerts are delivered to the
configured channels and echoed to the terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			bell, _ := cmd.Flags().GetBool("bell")

			term := notify.NewTerminalNotifier(output.Writer(), output.ColorEnabled())
			term.SetBellEnabled(bell)

			app.Config.Scheduler.Enabled = false
			rt, err := app.openRuntime(cmd.Context(), term)
			if err != nil {
				return err
			}
			defer rt.Close()

			start := time.Now()
			rs, err := rt.Scheduler.RunBulk(cmd.Context())
			if err != nil {
				output.Warning("A run is already in progress (started %s)", FormatOptTime(rs.StartedAt, rt.Calendar.Location()))
				return err
			}
			if output.IsJSON() {
				return output.JSON(rs)
			}
			printRunStatus(output, rs, rt.Calendar.Location())
			output.Dim("Took %s", FormatDuration(time.Since(start)))
			return nil
		},
	}
	cmd.Flags().Bool("bell", false, "ring the terminal bell on alerts")
	return cmd
}

func newUpdateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update <ticker>",
		Short: "Refresh one symbol, watched or archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			term := notify.NewTerminalNotifier(output.Writer(), output.ColorEnabled())

			app.Config.Scheduler.Enabled = false
			rt, err := app.openRuntime(cmd.Context(), term)
			if err != nil {
				return err
			}
			defer rt.Close()

			sym, err := rt.Store.GetSymbolByTicker(cmd.Context(), models.NormalizeTicker(args[0]))
			if err != nil {
				return err
			}
			res, err := rt.Scheduler.TriggerSingleUpdate(cmd.Context(), sym.ID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}

			if res.Status.StatusCode != models.StatusOK {
				output.Error("%s: %s (%s)", sym.Ticker, res.Status.StatusCode, res.Status.Message)
			} else {
				output.Success("✓ %s updated, %d alert(s) sent", sym.Ticker, res.Status.Notified)
			}
			if res.Quote != nil {
				printQuote(output, sym, *res.Quote, rt.Calendar.Location())
			}
			return nil
		},
	}
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <ticker>",
		Short: "Show the cached quote for a symbol",
		Long:  "Show the last cached quote. Providers are never called.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			rt, err := app.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			sym, err := rt.Store.GetSymbolByTicker(ctx, models.NormalizeTicker(args[0]))
			if err != nil {
				return err
			}
			q, ok := rt.Cache.Get(sym.ID)
			if output.IsJSON() {
				if !ok {
					return output.JSON(map[string]interface{}{"symbol": sym.Ticker, "cached": false})
				}
				q.DeriveChange()
				return output.JSON(q)
			}
			if !ok {
				output.Warning("No cached quote for %s yet. Run 'stockalert update %s'.", sym.Ticker, sym.Ticker)
				return nil
			}
			printQuote(output, sym, q, rt.Calendar.Location())
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest bulk run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			app.Config.Scheduler.Enabled = false
			rt, err := app.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if reset, _ := cmd.Flags().GetBool("reset"); reset {
				rs := rt.Scheduler.ResetRunStatus(ctx)
				if output.IsJSON() {
					return output.JSON(rs)
				}
				output.Warning("Run status reset")
				printRunStatus(output, rs, rt.Calendar.Location())
				return nil
			}

			rs := rt.Scheduler.RunStatus(ctx)
			last := rt.Scheduler.LastUpdateEpoch()
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"run_status":  rs,
					"last_update": last,
					"window_open": rt.Calendar.IsOpenAt(time.Now()),
				})
			}
			printRunStatus(output, rs, rt.Calendar.Location())
			output.Printf("  Last update:  %s\n", FormatEpoch(last, rt.Calendar.Location()))
			output.Printf("  Window:       %s\n", output.WindowStatus(rt.Calendar.IsOpenAt(time.Now())))
			return nil
		},
	}
	cmd.Flags().Bool("reset", false, "force finish a stuck run (manual_reset)")
	return cmd
}

func printRunStatus(output *Output, rs models.RunStatus, loc *time.Location) {
	output.Bold("Run status")
	output.Printf("  Phase:        %s\n", rs.Phase)
	output.Printf("  Status:       %s\n", output.StatusCode(rs.StatusCode))
	output.Printf("  Message:      %s\n", rs.Message)
	output.Printf("  Started:      %s\n", FormatOptTime(rs.StartedAt, loc))
	output.Printf("  Finished:     %s\n", FormatOptTime(rs.FinishedAt, loc))
	output.Printf("  OK / errors:  %d / %d\n", rs.OKCount, rs.ErrCount)
	output.Printf("  Notified:     %d\n", rs.NotifiedCount)
}

func printQuote(output *Output, sym *models.Symbol, q models.Quote, loc *time.Location) {
	q.DeriveChange()

	output.Bold("%s  %s", sym.Ticker, FormatUSD(q.Price))
	if q.Description != "" {
		output.Dim("  %s", TruncateString(q.Description, 72))
	}
	output.Printf("  Change:       %s\n", output.FormatChange(q.Change, q.ChangePercent))
	output.Printf("  Open:         %s\n", FormatOptUSD(q.Open))
	output.Printf("  High / Low:   %s / %s\n", FormatOptUSD(q.High), FormatOptUSD(q.Low))
	output.Printf("  Prev close:   %s\n", FormatOptUSD(q.PrevClose))
	output.Printf("  Volume:       %s\n", FormatOptCompact(q.Volume))
	output.Printf("  Market cap:   %s\n", FormatOptCompact(q.MarketCap))
	output.Printf("  52w range:    %s - %s\n", FormatOptUSD(q.FiftyTwoWeekLow), FormatOptUSD(q.FiftyTwoWeekHigh))
	if q.NextEarningsDay != "" {
		output.Printf("  Earnings:     %s\n", q.NextEarningsDay)
	}
	output.Printf("  Source:       %s\n", q.Source)
	output.Printf("  Last check:   %s\n", FormatEpoch(q.LastCheckEpoch, loc))
	if q.LastCheckNote != "" {
		output.Dim("  %s", q.LastCheckNote)
	}
}

