package commands

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ochat/internal/domain"
	"ochat/internal/util/memzero"
)

const (
	keyX25519  = "x25519"
	keyEdSeed  = "ed25519-seed"
	edSeedSize = 32
)

func exportKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-keys",
		Short: "Print the identity's private keys for `init --import`",
		Long: "Print the X25519 private key and Ed25519 seed in the format `init --import` reads.\n" +
			"Anyone holding the output can impersonate you; store it offline.",
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
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# ochat identity %s\n", id.XPub.Hex())
			fmt.Fprintf(out, "%s %s\n", keyX25519, hex.EncodeToString(id.XPriv[:]))
			fmt.Fprintf(out, "%s %s\n", keyEdSeed, hex.EncodeToString(id.EdPriv[:edSeedSize]))
			return nil
		},
	}
}

// readKeyFile parses the output of export-keys. Blank lines and lines
// starting with # are skipped.
func readKeyFile(path string) (domain.X25519Private, []byte, error) {
	var xpriv domain.X25519Private
	f, err := os.Open(path)
	if err != nil {
		return xpriv, nil, err
	}
	defer f.Close()
	return parseKeys(f)
}

func parseKeys(r io.Reader) (domain.X25519Private, []byte, error) {
	var (
		xpriv domain.X25519Private
		seed  []byte
		haveX bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, " ")
		if !ok {
			return xpriv, nil, fmt.Errorf("key file: malformed line %q", name)
		}
		raw, err := hex.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return xpriv, nil, fmt.Errorf("key file: %s: %w", name, err)
		}
		switch name {
		case keyX25519:
			if len(raw) != len(xpriv) {
				return xpriv, nil, fmt.Errorf("key file: %s must be %d bytes", name, len(xpriv))
			}
			copy(xpriv[:], raw)
			memzero.Zero(raw)
			haveX = true
		case keyEdSeed:
			if len(raw) != edSeedSize {
				return xpriv, nil, fmt.Errorf("key file: %s must be %d bytes", name, edSeedSize)
			}
			seed = raw
		default:
			return xpriv, nil, fmt.Errorf("key file: unknown entry %q", name)
		}
	}
	if err := sc.Err(); err != nil {
		return xpriv, nil, err
	}
	if !haveX || seed == nil {
		return xpriv, nil, fmt.Errorf("key file needs both %s and %s", keyX25519, keyEdSeed)
	}
	return xpriv, seed, nil
}
