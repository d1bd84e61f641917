package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "medrag",
	Short:   "Medical document question answering over a local corpus",
	Version: version,
	Long: `medrag answers medical questions strictly from an ingested document
corpus, with source citations and a fixed safety disclaimer.

Run the server with "medrag serve", then ask questions with
"medrag ask" or over HTTP at /api/v1/chat/query.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
