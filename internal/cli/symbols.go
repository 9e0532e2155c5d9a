package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stock-alert/internal/alerts"
	"stock-alert/internal/models"
	"stock-alert/internal/store"
)

func newSymbolsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "symbols",
		Aliases: []string{"sym", "watchlist"},
		Short:   "Manage the watchlist",
	}

	cmd.AddCommand(newSymbolsListCmd(app))
	cmd.AddCommand(newSymbolsAddCmd(app))
	cmd.AddCommand(newSymbolsMoveCmd(app))
	cmd.AddCommand(newSymbolsRemoveCmd(app))
	return cmd
}

func newSymbolsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List symbols with their cached prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			scope, _ := cmd.Flags().GetString("scope")
			query, _ := cmd.Flags().GetString("q")
			minRating, _ := cmd.Flags().GetInt("min-rating")

			filter := store.SymbolFilter{Query: query, MinRating: minRating}
			switch strings.ToLower(scope) {
			case "all":
			case "archived":
				filter.Group = models.GroupArchived
			case "watch", "":
				filter.Group = models.GroupWatch
			default:
				return fmt.Errorf("invalid scope %q (watch, archived or all)", scope)
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			symbols, err := st.ListSymbols(ctx, filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(symbols)
			}
			if len(symbols) == 0 {
				output.Dim("No symbols")
				return nil
			}

			qc, err := app.openCache(ctx, st)
			if err != nil {
				return err
			}

			table := NewTable(output, "TICKER", "GROUP", "PRICE", "CHANGE", "RATING", "NOTE")
			for _, s := range symbols {
				price, change := Missing, Missing
				if q, ok := qc.Get(s.ID); ok && q.HasBody() {
					q.DeriveChange()
					price = FormatUSD(q.Price)
					change = output.FormatChange(q.Change, q.ChangePercent)
				}
				table.AddRow(s.Ticker, string(s.Group), price, change, FormatRating(s.Rating), TruncateString(s.Note, 30))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("scope", "watch", "watch, archived or all")
	cmd.Flags().String("q", "", "ticker substring filter")
	cmd.Flags().Int("min-rating", 0, "only symbols rated at least this")
	return cmd
}

func newSymbolsAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <ticker>",
		Short: "Add a symbol and seed the default earnings reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ticker := models.NormalizeTicker(args[0])
			if ticker == "" {
				return fmt.Errorf("ticker is required")
			}
			groupName, _ := cmd.Flags().GetString("group")
			group, ok := models.ParseGroup(groupName)
			if !ok {
				return fmt.Errorf("invalid group %q", groupName)
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sym, err := st.AddSymbol(ctx, ticker, group)
			if err != nil {
				return err
			}
			seeded := false
			if rule, ok := alerts.DefaultEarningsRule(sym.ID, app.Config.Alerts.EarningsDefaultDays); ok {
				if err := st.AddAlertRule(ctx, rule); err != nil {
					app.Logger.Warn().Err(err).Str("symbol", ticker).Msg("Failed to seed default earnings reminder")
				} else {
					seeded = true
				}
			}

			if output.IsJSON() {
				return output.JSON(sym)
			}
			output.Success("✓ Added %s to %s", sym.Ticker, sym.Group)
			if seeded {
				output.Dim("  Earnings reminder %d day(s) before", app.Config.Alerts.EarningsDefaultDays)
			}
			return nil
		},
	}
	cmd.Flags().String("group", "watch", "watch or archived")
	return cmd
}

func newSymbolsMoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "move <ticker> <group>",
		Short: "Move a symbol between watch and archived",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			group, ok := models.ParseGroup(args[1])
			if !ok || strings.TrimSpace(args[1]) == "" {
				return fmt.Errorf("invalid group %q (watch or archived)", args[1])
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sym, err := st.GetSymbolByTicker(ctx, models.NormalizeTicker(args[0]))
			if err != nil {
				return err
			}
			if err := st.MoveSymbol(ctx, sym.ID, group); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"status": "ok", "symbol": sym.Ticker, "moved_to": group})
			}
			output.Success("✓ Moved %s to %s", sym.Ticker, group)
			return nil
		},
	}
}

func newSymbolsRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <ticker>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a symbol with its alerts and cached quote",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sym, err := st.GetSymbolByTicker(ctx, models.NormalizeTicker(args[0]))
			if err != nil {
				return err
			}
			if err := st.DeleteSymbol(ctx, sym.ID); err != nil {
				return err
			}
			if qc, err := app.openCache(ctx, st); err == nil {
				if err := qc.Delete(ctx, sym.ID); err != nil {
					app.Logger.Warn().Err(err).Str("symbol", sym.Ticker).Msg("Failed to drop cached quote")
				}
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"status": "ok", "deleted": sym.Ticker})
			}
			output.Success("✓ Removed %s", sym.Ticker)
			return nil
		},
	}
}
