package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-notes/internal/config"
)

var downloadDir string

var downloadCmd = &cobra.Command{
	Use:   "download [id]",
	Short: "Save a note as a text file",
	Long: `Download writes the note body to note.txt (or download.filename) in the
download directory, replacing any earlier download.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		var dir string
		session, err := openSession(cmd.Context(), func(cfg *config.Config) {
			offline(cfg)
			if downloadDir != "" {
				cfg.Download.Directory = downloadDir
			}
			dir = cfg.Download.Directory
		})
		if err != nil {
			fatal("Error opening notes", err)
		}
		defer session.Close()

		if err := session.Download(cmd.Context(), id); err != nil {
			fatal("Error downloading note", err)
		}
		fmt.Printf("Note %s saved to %s\n", id, filepath.Join(dir, session.DownloadName()))
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadDir, "dir", "", "Directory to save into (overrides download.directory)")
}
