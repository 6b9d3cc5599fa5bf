package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ochat/internal/domain"
)

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			contacts, err := client().Contacts(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PEER\tNAME\tSTATUS\tONION")
			for _, c := range contacts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID(), c.DisplayName, c.Status, c.Onion)
			}
			return tw.Flush()
		},
	}
}

func historyCmd() *cobra.Command {
	var saveDir string
	cmd := &cobra.Command{
		Use:   "history <peer>",
		Short: "Print the messages exchanged with a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			c := client()
			hist, err := c.History(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range hist {
				fmt.Fprintf(out, "%s %s %-8s %-11s %s\n", m.CreatedAt.Format(time.DateTime), m.ID, m.Direction, m.Status, describe(m))
				f := m.Payload.File
				if f == nil || saveDir == "" || m.Direction != domain.DirectionReceived {
					continue
				}
				data, err := c.File(ctx, f.Transfer)
				if err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(saveDir, filepath.Base(f.Name)), data, 0o600); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-files", "", "write received files into this directory")
	return cmd
}

func describe(m domain.Message) string {
	p := m.Payload
	switch p.Kind {
	case domain.PayloadFile:
		if p.File != nil {
			return fmt.Sprintf("[file %s, %d bytes]", p.File.Name, p.File.Size)
		}
	case domain.PayloadQuote:
		return fmt.Sprintf("> %s: %s", p.ReplyTo, p.Text)
	case domain.PayloadReaction:
		return fmt.Sprintf("[%s on %s]", p.Text, p.ReplyTo)
	}
	return p.Text
}
