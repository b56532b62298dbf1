package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

// cfgFile is the --config override shared by all commands.
var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "shunt",
		Short: "Merge queue that keeps master green",
		Long: `Shunt serializes pull request merges. Approved PRs wait in a queue;
each candidate is merged onto a staging branch and built by CI, and
master only ever fast-forwards to commits that passed.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.shunt/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(),
		newQueueCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Shunt version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Shunt %s\n", version)
			if buildTime != "unknown" {
				fmt.Printf("Built: %s\n", buildTime)
			}
		},
	}
}
