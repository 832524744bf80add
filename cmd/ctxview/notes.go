package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/ctxview/internal/config"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/relay"
	"github.com/thebtf/ctxview/internal/store"
)

var noteOpts struct {
	entryType string
	category  string
	query     bool
	push      bool
	redisURL  string
}

var noteCmd = &cobra.Command{
	Use:   "note TEXT...",
	Short: "Append a feedback entry",
	Long: `Append a feedback entry to feedback.json.

With --query the note is also queued for the polling agent. With --push it is
published to the Redis feedback channel for the push agent instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNote,
}

var focusOpts struct {
	completed string
	push      bool
	redisURL  string
}

var focusCmd = &cobra.Command{
	Use:   "focus FOCUS [STATUS] [PRIORITY]",
	Short: "Set the current focus, progress status and next priority",
	Args:  cobra.RangeArgs(1, 3),
	RunE:  runFocus,
}

func init() {
	noteCmd.Flags().StringVar(&noteOpts.entryType, "type", mutator.DefaultEntryType, "Entry type")
	noteCmd.Flags().StringVar(&noteOpts.category, "category", mutator.DefaultEntryCategory, "Entry category")
	noteCmd.Flags().BoolVar(&noteOpts.query, "query", false, "Also write a pending identity query")
	noteCmd.Flags().BoolVar(&noteOpts.push, "push", false, "Publish to Redis instead of writing the documents")
	noteCmd.Flags().StringVar(&noteOpts.redisURL, "redis", config.DefaultRedisURL, "Redis URL for --push")

	focusCmd.Flags().StringVar(&focusOpts.completed, "completed", "", "Also record a completed task")
	focusCmd.Flags().BoolVar(&focusOpts.push, "push", false, "Publish to Redis instead of writing the documents")
	focusCmd.Flags().StringVar(&focusOpts.redisURL, "redis", config.DefaultRedisURL, "Redis URL for --push")
}

func runNote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	docs, m, err := openMutator(cfg)
	if err != nil {
		return err
	}
	defer docs.Close()

	entry := m.NewEntry(strings.Join(args, " "), noteOpts.entryType, noteOpts.category, "", mutator.SourceManual)
	if entry.Note == "" {
		return fmt.Errorf("note is empty")
	}

	if noteOpts.push || cfg.Push {
		client, err := relay.Dial(ctx, redisURL(cmd, cfg, noteOpts.redisURL), cfg.ChannelPrefix, log.Logger)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.PublishFeedback(ctx, entry); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Feedback published")
		return nil
	}

	if err := m.AppendFeedback(ctx, entry); err != nil {
		return err
	}
	if noteOpts.query {
		if _, err := m.SubmitQuery(ctx, entry.Note); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Feedback added to %s\n", store.Feedback)
	return nil
}

func runFocus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	update := mutator.FocusUpdate{ActiveFocus: args[0], Completion: focusOpts.completed}
	if len(args) > 1 {
		update.ProgressStatus = args[1]
	}
	if len(args) > 2 {
		update.NextPriority = args[2]
	}

	if focusOpts.push || cfg.Push {
		client, err := relay.Dial(ctx, redisURL(cmd, cfg, focusOpts.redisURL), cfg.ChannelPrefix, log.Logger)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.PublishContextUpdate(ctx, update); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Context update published")
		return nil
	}

	docs, m, err := openMutator(cfg)
	if err != nil {
		return err
	}
	defer docs.Close()

	if err := m.UpdateFocus(ctx, update); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Focus updated in %s\n", store.Context)
	return nil
}

// redisURL prefers an explicit --redis flag over the configured URL.
func redisURL(cmd *cobra.Command, cfg *config.Config, flagValue string) string {
	if cmd.Flags().Changed("redis") {
		return flagValue
	}
	return cfg.RedisURL
}
