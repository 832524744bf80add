// Package main provides the ctxview command: the context viewer, the
// feedback agent and small helpers for editing the documents by hand.
package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var Version = "dev"

// shutdownTimeout bounds graceful shutdown after SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

var (
	basePath string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ctxview",
	Short: "Live view of an agent's working context with a feedback loop",
	Long: `ctxview serves a live page over the context documents kept in a
directory and turns feedback typed into that page into document updates.

  serve  - run the viewer page and HTTP API
  agent  - classify submitted feedback and apply it to the documents
  note   - append a feedback entry from the command line
  focus  - set the current focus, status and next priority`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&basePath, "path", "p", ".", "Directory holding the context documents")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(focusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("ctxview failed")
		os.Exit(1)
	}
}

// setupLogging installs the console writer and applies level when set.
func setupLogging(level string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	if level == "" {
		return nil
	}
	return applyLevel(level)
}

func applyLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
