package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/crypto"
	"ochat/internal/services/identity"
	"ochat/internal/store"
)

const strongPass = "Correct-Horse-42"

func newService(t *testing.T) *identity.Service {
	t.Helper()
	kv, err := store.NewFileKV(t.TempDir())
	require.NoError(t, err)
	return identity.New(store.NewIdentityStore(kv).WithScryptParams(1<<10, 8, 1))
}

func TestGenerateIdentity_PolicyAndFingerprint(t *testing.T) {
	svc := newService(t)

	_, _, err := svc.GenerateIdentity("short")
	require.ErrorIs(t, err, identity.ErrWeakPassphrase)

	id, fp, err := svc.GenerateIdentity(strongPass)
	require.NoError(t, err)
	assert.Len(t, fp.String(), 20)
	assert.Equal(t, crypto.OnionAddress(id.EdPub), id.Onion)

	got, err := svc.FingerprintIdentity(strongPass)
	require.NoError(t, err)
	assert.Equal(t, fp, got)

	pub, err := svc.PublicIdentity(strongPass)
	require.NoError(t, err)
	assert.Equal(t, id.XPub, pub.PublicKey)
	assert.Equal(t, id.Onion, pub.Onion)
}

func TestImportIdentity_Deterministic(t *testing.T) {
	svc := newService(t)
	orig, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	got, err := svc.ImportIdentity(strongPass, orig.XPriv, orig.EdPriv[:32])
	require.NoError(t, err)
	assert.Equal(t, orig.XPub, got.XPub)
	assert.Equal(t, orig.EdPub, got.EdPub)
	assert.Equal(t, orig.Onion, got.Onion)

	loaded, err := svc.LoadIdentity(strongPass)
	require.NoError(t, err)
	assert.Equal(t, orig.Onion, loaded.Onion)
}
