package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-notes/internal/app"
	"github.com/loqalabs/loqa-notes/internal/config"
	"github.com/loqalabs/loqa-notes/internal/tui"
)

var tuiLogFile string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive notes widget",
	Long: `tui opens the full widget in the terminal: dictate with ctrl+r, pause with
ctrl+p, save the draft with ctrl+s, or type a line and press enter.
Press tab to move to the list, then l, d or w to listen to, delete or
download the selected note.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The terminal belongs to the widget; logs go to a file or nowhere.
		var out io.Writer = io.Discard
		if tuiLogFile != "" {
			f, err := os.OpenFile(tuiLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				fatal("Error opening log file", err)
			}
			defer f.Close()
			out = f
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

		cfg, err := config.Load(configPath)
		if err != nil {
			fatal("Error loading config", err)
		}
		session, err := app.New(ctx, cfg, logger)
		if err != nil {
			fatal("Error opening notes", err)
		}
		defer session.Close()

		if err := tui.Run(ctx, session); err != nil {
			fatal("Error running widget", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().StringVar(&tuiLogFile, "log-file", "", "Write logs to this file while the widget runs")
}
