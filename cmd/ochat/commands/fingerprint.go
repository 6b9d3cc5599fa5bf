package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ochat/internal/services/identity"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print what peers need to contact you",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			id, err := w.IDs.LoadIdentity(cfg.Passphrase)
			if err != nil {
				return err
			}
			if id, err = w.Advertise(id); err != nil {
				return err
			}
			pub := identity.Public(id)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Public key:  %s\n", pub.PublicKey.Hex())
			fmt.Fprintf(out, "Onion:       %s\n", pub.Onion)
			fmt.Fprintf(out, "Fingerprint: %s\n", pub.Fingerprint)
			return nil
		},
	}
}
