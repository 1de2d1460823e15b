package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a note",
	Long:  `Delete removes a note by id. Deleting an id that does not exist is not an error.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		session, err := openSession(cmd.Context(), offline)
		if err != nil {
			fatal("Error opening notes", err)
		}
		defer session.Close()

		if err := session.Delete(cmd.Context(), id); err != nil {
			fatal("Error deleting note", err)
		}
		fmt.Printf("Note deleted: %s\n", id)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
