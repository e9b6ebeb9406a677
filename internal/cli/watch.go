package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var watchFolder string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a folder and print new messages as they arrive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()
		client, err := newClient(logger)
		if err != nil {
			return err
		}

		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()

		folder := watchFolder
		if folder == "" {
			if folder, err = client.SelectInbox(ctx); err != nil {
				return err
			}
		} else if err := client.Select(ctx, folder); err != nil {
			return err
		}

		watch, err := client.Watch(ctx)
		if err != nil {
			return err
		}
		defer watch.Stop()

		fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", folder)
		for msg := range watch.Messages() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s <%s>\t%s\n",
				msg.Date.Format(time.RFC3339),
				msg.From.Name, msg.From.Addr,
				msg.Subject)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchFolder, "folder", "", "folder to watch (default: the inbox)")
	rootCmd.AddCommand(watchCmd)
}
