// Package cli provides the command-line interface for the trading core.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"flowtrader/internal/config"
)

// Version information.
const (
	Version   = "0.1.0"
	BuildDate = "2026-08-25"
)

// App holds the application dependencies shared across commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "flowtrader",
		Short: "Order-flow momentum trading core",
		Long: `flowtrader is an autonomous trading core for crypto markets.

It derives momentum signals from order-book imbalance and trade-tape
velocity, sizes them against volatility-adjusted risk limits, and routes
immediate-or-cancel orders across venues.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/flowtrader)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newAuditCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flowtrader v%s (built %s)\n", Version, BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			fmt.Println("Signal")
			fmt.Printf("  Score Threshold:  %.2f\n", cfg.Signal.ScoreThreshold)
			fmt.Printf("  Velocity Floor:   %.2f\n", cfg.Signal.VelocityFloor)
			fmt.Printf("  VWAP Dist Max:    %.4f\n", cfg.Signal.VWAPDistanceMax)
			fmt.Println("Risk")
			fmt.Printf("  Base Risk:        %.4f\n", cfg.Risk.BaseRiskFraction)
			fmt.Printf("  Max Positions:    %d\n", cfg.Risk.MaxPositions)
			fmt.Printf("  Correlation:      %.2f (max %d)\n", cfg.Risk.CorrelationLimit, cfg.Risk.MaxCorrelated)
			fmt.Println("Execution")
			fmt.Printf("  Order Timeout:    %s\n", cfg.Execution.OrderTimeout)
			fmt.Printf("  Max Slippage:     %.4f\n", cfg.Execution.MaxSlippage)
			for venue, w := range cfg.Execution.VenueWeights {
				fmt.Printf("  Venue %-10s %.2f\n", venue+":", w)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.DefaultConfigDir())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Validate(); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	return cmd
}
