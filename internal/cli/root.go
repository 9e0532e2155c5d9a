package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stock-alert/internal/config"
	"stock-alert/internal/logging"
	"stock-alert/internal/security"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the application dependencies shared by commands.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "stockalert",
		Short: "Stock quote refresh scheduler and alert engine",
		Long: `stockalert refreshes quotes for a watchlist on a schedule, evaluates
price and earnings alert rules and sends notifications.

Run 'stockalert serve' for the HTTP API and scheduler, or use the
commands below to manage the watchlist from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/stock-alert)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newUpdateCmd(app))
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newSymbolsCmd(app))

	return rootCmd
}

// load reads configuration and rebuilds the logger from it.
func (a *App) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	a.ConfigDir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		// config validate reports the error itself.
		if cmd.Name() == "validate" {
			a.Config = nil
			return nil
		}
		return err
	}
	a.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.JSON = cfg.Log.JSON
	logCfg.File = cfg.Log.File
	if cfg.Log.FilePath != "" {
		logCfg.FilePath = cfg.Log.FilePath
	}
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		logCfg.Console = false
		if !logCfg.File {
			logCfg.Level = "error"
		}
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("stockalert v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration in config.toml and the environment.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.ConfigDir, "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Config == nil {
				_, err := config.Load(app.ConfigDir)
				output.Error("✗ Configuration is invalid: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	mask := func(s *string) {
		*s = security.MaskCredential(*s)
	}
	mask(&c.Provider.AlphaVantage.APIKey)
	mask(&c.Provider.OpenAI.APIKey)
	mask(&c.Provider.Gemini.APIKey)
	mask(&c.Notifications.Discord.WebhookURL)
	mask(&c.Notifications.Webhook.URL)
	mask(&c.Notifications.Telegram.BotToken)
	mask(&c.Notifications.Email.Password)
	mask(&c.Cache.Redis.Password)
	return c
}

func showConfig(output *Output, cfg *config.Config) {
	set := func(s string) string {
		if s == "" {
			return output.Red("not set")
		}
		return output.Green("set")
	}

	output.Bold("Provider")
	output.Printf("  Name:            %s\n", cfg.Provider.Name)
	output.Printf("  Fallback:        %v\n", cfg.Provider.Fallback)
	output.Printf("  Min interval:    %s\n", cfg.Provider.MinInterval)
	output.Printf("  Alpha Vantage:   %s\n", set(cfg.Provider.AlphaVantage.APIKey))
	output.Printf("  OpenAI:          %s (%s)\n", set(cfg.Provider.OpenAI.APIKey), cfg.Provider.OpenAI.Model)
	output.Printf("  Gemini:          %s (%s)\n", set(cfg.Provider.Gemini.APIKey), cfg.Provider.Gemini.Model)
	output.Println()

	output.Bold("Market & Alerts")
	output.Printf("  Time zone:       %s\n", cfg.Market.Timezone)
	output.Printf("  Window:          %s-%s %v\n", cfg.Alerts.Window.Start, cfg.Alerts.Window.End, cfg.Alerts.Window.Weekdays)
	output.Printf("  Cooldown:        %s\n", cfg.Alerts.Cooldown)
	output.Printf("  Earnings days:   %d\n", cfg.Alerts.EarningsDefaultDays)
	output.Println()

	output.Bold("Scheduler")
	output.Printf("  Enabled:         %v\n", cfg.Scheduler.Enabled)
	output.Printf("  Fire times:      %v\n", cfg.Scheduler.FireTimes)
	output.Printf("  Interval:        %s\n", cfg.Scheduler.RefreshInterval)
	output.Printf("  Concurrency:     %d\n", cfg.Scheduler.Concurrency)
	output.Printf("  Run timeout:     %s\n", cfg.Scheduler.RunTimeout)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Storage.DBPath)
	output.Printf("  Cache backend:   %s\n", cfg.Cache.Backend)
	output.Printf("  HTTP address:    %s\n", cfg.Server.Addr)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Discord:         %s\n", set(cfg.Notifications.Discord.WebhookURL))
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Printf("  Email:           %v\n", cfg.Notifications.Email.Enabled)
	output.Printf("  Log:             %v\n", cfg.Notifications.Log)
}

// Execute runs the root command and exits non-zero on failure.
func Execute(logger zerolog.Logger) {
	if err := NewRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
