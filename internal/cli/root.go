// Package cli provides the command-line interface for upd8r.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/upd8r/upd8r/internal/config"
	"github.com/upd8r/upd8r/internal/logging"
	"github.com/upd8r/upd8r/internal/privacy"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".upd8r"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "upd8r",
	Short: "Watch web serials and games for new updates and announce them",
	Long: "upd8r polls RSS feeds, chapter indexes, Steam news, Mastodon, Reddit and Hacker News, " +
		"remembers the newest update seen per media, and announces each new one to Discord, Mastodon, Telegram or the console.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "upd8r %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", defaultConfigDir, "config directory holding config.yaml")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	// Patterns were validated by config.Load.
	red, _ := privacy.NewRedactor(cfg.Secrets(), cfg.Log.Redact)
	return logging.New(w, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Redactor: red}).
		With().Str("app", "upd8r").Logger()
}
