package cmd

import (
	"fmt"
	"os"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logger"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Terminal chat client with an optimistic outbox",
	Long: `chatclient talks to the chat server: messages show up at once as pending,
are delivered in order and survive restarts in the configured outbox.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPrefix("chatclient")
		cfg = config.Load()
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger.SetLevel(cfg.LogLevel)
		return nil
	},
}

var (
	cfg     *config.Config
	verbose bool
)

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
