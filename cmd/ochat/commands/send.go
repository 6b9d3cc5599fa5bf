package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ochat/internal/api"
	"ochat/internal/domain"
)

// send <peer> <text>: queue a message; the id is printed at once and the
// delivery status shows up in history.
func sendCmd() *cobra.Command {
	var replyTo, reaction string
	cmd := &cobra.Command{
		Use:   "send <peer> <text>",
		Short: "Send a message to a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			req := api.SendRequest{Text: args[1], ReplyTo: domain.MessageID(replyTo)}
			if reaction != "" {
				req = api.SendRequest{Reaction: args[1], ReplyTo: domain.MessageID(reaction)}
			}
			id, err := client().Send(ctx, args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "quote the message with this id")
	cmd.Flags().StringVar(&reaction, "react-to", "", "send <text> as a reaction to the message with this id")
	return cmd
}

func sendFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-file <peer> <path>",
		Short: "Send a file to a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()

			id, err := client().SendFile(ctx, args[0], filepath.Base(args[1]), data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <peer> <message-id>",
		Short: "Re-send a failed message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			return client().Retry(ctx, args[0], domain.MessageID(args[1]))
		},
	}
}

// rm <peer> [message-id]: remove one message, or the contact and its history.
func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <peer> [message-id]",
		Short: "Remove a message, or a contact with its history",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if len(args) == 2 {
				return client().RemoveMessage(ctx, args[0], domain.MessageID(args[1]))
			}
			return client().RemoveContact(ctx, args[0])
		},
	}
}
