package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ochat/internal/api"
)

// request <public-key> <onion> [name]: ask a peer to chat.
func requestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <public-key> <onion> [name]",
		Short: "Ask a peer to chat",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()

			req := api.ChatRequest{PublicKey: args[0], Onion: args[1]}
			if len(args) == 3 {
				req.Name = args[2]
			}
			c, err := client().RequestChat(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requested %s (%s)\n", c.ID(), c.Status)
			return nil
		},
	}
}

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <peer>",
		Short: "Accept a chat request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := client().Confirm(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "confirmed")
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <peer>",
		Short: "Drop an open chat request without notifying the peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := client().Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
			return nil
		},
	}
}

func blockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block <peer>",
		Short: "Block a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := client().Block(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "blocked")
			return nil
		},
	}
}
