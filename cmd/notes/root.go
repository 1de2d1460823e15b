package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-notes/internal/app"
	"github.com/loqalabs/loqa-notes/internal/config"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "notes",
	Short: "Dictate, keep and replay short notes",
	Long: `notes captures dictated speech into a draft, saves drafts as timestamped
notes and lets you listen to, delete or download them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
	SilenceUsage: true,
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
}

// openSession loads configuration, lets the command adjust it and builds a
// session.
func openSession(ctx context.Context, adjust func(*config.Config)) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(&cfg)
	}
	return app.New(ctx, cfg, slog.Default())
}

// offline is the adjustment for one-shot commands, which only touch the
// store.
func offline(cfg *config.Config) {
	cfg.Speech.Enabled = false
	cfg.TTS.Enabled = false
	cfg.Bus.Enabled = false
	cfg.View.Watch = false
}
