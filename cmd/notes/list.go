package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-notes/internal/view"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved notes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		session, err := openSession(cmd.Context(), offline)
		if err != nil {
			fatal("Error opening notes", err)
		}
		defer session.Close()

		page, _ := session.Render(cmd.Context())
		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(page.Rows); err != nil {
				fatal("Error encoding JSON", err)
			}
			return
		}
		fmt.Print(formatPage(page))
	},
}

func formatPage(page view.Page) string {
	if page.Empty() {
		return page.Placeholder + "\n"
	}
	var b strings.Builder
	for _, row := range page.Rows {
		body := strings.ReplaceAll(row.Body, "\n", " ")
		fmt.Fprintf(&b, "%s  %s\n", row.ID, body)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
}
