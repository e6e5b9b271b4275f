// Command flowtrader is the entry point for the trading core. It loads
// configuration, initializes logging, and dispatches to the CLI.
package main

import (
	"fmt"
	"os"

	"flowtrader/internal/cli"
	"flowtrader/internal/config"
	"flowtrader/internal/logging"
)

func main() {
	configDir := ""
	for i, arg := range os.Args[1:] {
		if arg == "--config" && i+2 < len(os.Args) {
			configDir = os.Args[i+2]
		}
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowtrader: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "flowtrader: %v\n", err)
		os.Exit(1)
	}
}
