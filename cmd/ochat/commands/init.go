package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ochat/internal/domain"
	"ochat/internal/util/memzero"
)

func initCmd() *cobra.Command {
	var importPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		Long: "Generate identity keys and store them under the passphrase.\n" +
			"With --import, restore the keys written by `export-keys` instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWire(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			has, err := w.Identities.HasIdentity()
			if err != nil {
				return err
			}
			if has {
				return fmt.Errorf("identity already exists in %s", cfg.Home)
			}

			var (
				id domain.Identity
				fp domain.Fingerprint
			)
			if importPath != "" {
				xpriv, seed, err := readKeyFile(importPath)
				if err != nil {
					return err
				}
				id, err = w.IDs.ImportIdentity(cfg.Passphrase, xpriv, seed)
				memzero.Zero(xpriv[:])
				memzero.Zero(seed)
				if err != nil {
					return err
				}
				if fp, err = w.IDs.FingerprintIdentity(cfg.Passphrase); err != nil {
					return err
				}
			} else if id, fp, err = w.IDs.GenerateIdentity(cfg.Passphrase); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if importPath != "" {
				fmt.Fprintf(out, "Identity imported.\n")
			} else {
				fmt.Fprintf(out, "Identity created.\n")
			}
			fmt.Fprintf(out, "Public key:  %s\n", id.XPub.Hex())
			fmt.Fprintf(out, "Onion:       %s\n", id.Onion)
			fmt.Fprintf(out, "Fingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&importPath, "import", "", "restore keys from a file written by export-keys")
	return cmd
}
