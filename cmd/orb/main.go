package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "orb",
	Short:         "Personal memory assistant",
	Long:          "orb stores thoughts, chats and files with embeddings and answers questions about them.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(thoughtCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
