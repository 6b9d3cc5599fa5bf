package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitThenFingerprint(t *testing.T) {
	home := t.TempDir()
	const pass = "Correct-Horse-42!"

	out, err := run(t, "init", "--home", home, "-p", pass)
	require.NoError(t, err)
	assert.Contains(t, out, "Identity created.")
	var onion string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "Onion:"); ok {
			onion = strings.TrimSpace(v)
		}
	}
	require.True(t, strings.HasSuffix(onion, ".onion"), out)

	out, err = run(t, "fingerprint", "--home", home, "-p", pass)
	require.NoError(t, err)
	assert.Contains(t, out, onion)

	_, err = run(t, "init", "--home", home, "-p", pass)
	assert.Error(t, err)

	_, err = run(t, "fingerprint", "--home", home, "-p", "Wrong-Horse-42!")
	assert.Error(t, err)
}

func TestPassphraseRequired(t *testing.T) {
	_, err := run(t, "init", "--home", t.TempDir())
	assert.ErrorContains(t, err, "passphrase required")
}

func TestExportKeysThenImport_RestoresIdentity(t *testing.T) {
	const pass = "Correct-Horse-42!"
	home := t.TempDir()

	created, err := run(t, "init", "--home", home, "-p", pass)
	require.NoError(t, err)
	keys, err := run(t, "export-keys", "--home", home, "-p", pass)
	require.NoError(t, err)
	require.Contains(t, keys, "x25519 ")
	require.Contains(t, keys, "ed25519-seed ")

	file := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.WriteFile(file, []byte(keys), 0o600))

	other := t.TempDir()
	imported, err := run(t, "init", "--home", other, "-p", "Other-Horse-43!", "--import", file)
	require.NoError(t, err)
	assert.Contains(t, imported, "Identity imported.")
	assert.Equal(t,
		strings.SplitN(created, "\n", 2)[1],
		strings.SplitN(imported, "\n", 2)[1],
		"public key, onion and fingerprint must survive the round trip")
}

func TestParseKeys_Rejects(t *testing.T) {
	x := strings.Repeat("11", 32)
	for name, in := range map[string]string{
		"missing seed": "x25519 " + x,
		"short key":    "x25519 1122\ned25519-seed " + x,
		"bad hex":      "x25519 zz\ned25519-seed " + x,
		"unknown":      "x25519 " + x + "\ned25519-seed " + x + "\nrsa " + x,
		"no value":     "x25519",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := parseKeys(strings.NewReader(in))
			assert.Error(t, err)
		})
	}

	xpriv, seed, err := parseKeys(strings.NewReader("# comment\n\nx25519 " + x + "\ned25519-seed " + x + "\n"))
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), xpriv[0])
	assert.Len(t, seed, 32)
}
