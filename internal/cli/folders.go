package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ikatson/betterimap/pkg/imap/folders"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List the account's folders",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()
		client, err := newClient(logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()

		list, err := client.ListFolders(ctx)
		if err != nil {
			return err
		}

		inbox, _ := folders.Inbox(list)
		sent, _ := folders.Sent(list)
		trash, _ := folders.Trash(list)

		for _, f := range list {
			var notes []string
			switch f.Name {
			case inbox.Name:
				notes = append(notes, "inbox")
			case sent.Name:
				notes = append(notes, "sent")
			case trash.Name:
				notes = append(notes, "trash")
			}
			for _, attr := range f.Attrs {
				notes = append(notes, string(attr))
			}
			if len(notes) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t(%s)\n", f.Name, strings.Join(notes, ", "))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), f.Name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(foldersCmd)
}
