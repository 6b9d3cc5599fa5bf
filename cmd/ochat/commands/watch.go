package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"ochat/internal/api"
)

// watch: print every notification of the running serve as a JSON line.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream events, transport and session states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := client().Events(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				var n api.Notification
				if err := conn.ReadJSON(&n); err != nil {
					return err
				}
				if err := enc.Encode(n); err != nil {
					return err
				}
			}
		},
	}
}
