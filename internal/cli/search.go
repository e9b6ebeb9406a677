package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ikatson/betterimap/pkg/imap/searches"
)

var searchFlags struct {
	folder    string
	subject   string
	sender    string
	recipient string
	since     string
	before    string
	exactDate string
	flags     []string
	limit     int
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a folder and print matching messages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		criteria, err := criteriaFromFlags()
		if err != nil {
			return err
		}

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

		if searchFlags.folder != "" {
			if err := client.Select(ctx, searchFlags.folder); err != nil {
				return err
			}
		} else {
			if _, err := client.SelectInbox(ctx); err != nil {
				return err
			}
		}

		results, err := client.EasySearch(ctx, criteria)
		if err != nil {
			return err
		}

		for _, res := range results {
			if res.Err != nil {
				logger.Warn("skipping message", "uid", uint32(res.ID), "error", res.Err)
				continue
			}
			msg := res.Message
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s <%s>\t%s\n",
				uint32(msg.ID),
				msg.Date.Format(time.RFC3339),
				msg.From.Name, msg.From.Addr,
				msg.Subject)
		}
		return nil
	},
}

func criteriaFromFlags() (searches.Criteria, error) {
	criteria := searches.Criteria{
		Subject:   searchFlags.subject,
		Sender:    searchFlags.sender,
		Recipient: searchFlags.recipient,
		Flags:     searchFlags.flags,
		Limit:     searchFlags.limit,
	}

	var err error
	if criteria.Since, err = parseDateFlag("since", searchFlags.since); err != nil {
		return searches.Criteria{}, err
	}
	if criteria.Before, err = parseDateFlag("before", searchFlags.before); err != nil {
		return searches.Criteria{}, err
	}
	if criteria.ExactDate, err = parseDateFlag("exact-date", searchFlags.exactDate); err != nil {
		return searches.Criteria{}, err
	}
	return criteria, nil
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid --%s", name)
	}
	return parsed, nil
}

func init() {
	searchCmd.Flags().StringVar(&searchFlags.folder, "folder", "", "folder to search (default: the inbox)")
	searchCmd.Flags().StringVar(&searchFlags.subject, "subject", "", "subject substring")
	searchCmd.Flags().StringVar(&searchFlags.sender, "sender", "", "sender substring")
	searchCmd.Flags().StringVar(&searchFlags.recipient, "recipient", "", "recipient substring (To or Cc)")
	searchCmd.Flags().StringVar(&searchFlags.since, "since", "", "messages on or after this date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchFlags.before, "before", "", "messages before this date (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchFlags.exactDate, "exact-date", "", "messages on exactly this date (YYYY-MM-DD)")
	searchCmd.Flags().StringArrayVar(&searchFlags.flags, "flag", nil, "required message flag, may repeat")
	searchCmd.Flags().IntVar(&searchFlags.limit, "limit", 0, "most recent N matches (default 100)")
	rootCmd.AddCommand(searchCmd)
}
