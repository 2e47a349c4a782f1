package cmd

import (
	"os"

	"github.com/crytic/kprove/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kprove",
	Short: "A symbolic proof explorer for Solidity test suites",
	Long:  "kprove proves foundry test functions by exploring their symbolic executions against a K semantics server",
}

// cmdLogger is the logger used by the CLI commands. Its stdout writer is attached by Execute.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel).NewSubLogger(logging.SERVICE_KEY, logging.CLI_SERVICE)

func Execute() error {
	cmdLogger.AddWriter(os.Stdout, logging.UNSTRUCTURED, true)
	return rootCmd.Execute()
}
