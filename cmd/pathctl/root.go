package main

import (
	"os"

	"github.com/spf13/cobra"

	logpkg "github.com/local/pathdesk/internal/logger"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "pathctl",
		Short:         "PLNM score calculator and whole-slide image summarizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logpkg.Init(logpkg.Options{Level: logLevel, Pretty: true, Console: os.Stderr})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logpkg.Close()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.AddCommand(newScoreCmd(), newSummarizeCmd())
	return root
}
