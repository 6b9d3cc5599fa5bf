package crypto_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/crypto"
	"ochat/internal/domain"
)

func newIdentity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func TestSealOpen_RoundTrip(t *testing.T) {
	id := newIdentity(t)

	for _, msg := range [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 64*1024),
	} {
		ct, err := crypto.Seal(id.XPub, msg)
		require.NoError(t, err)
		require.Len(t, ct, len(msg)+crypto.Overhead)

		pt, err := crypto.Open(id.XPub, id.XPriv, ct)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(msg, pt))
	}
}

func TestSeal_FreshEphemeralPerCall(t *testing.T) {
	id := newIdentity(t)

	a, err := crypto.Seal(id.XPub, []byte("same"))
	require.NoError(t, err)
	b, err := crypto.Seal(id.XPub, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpen_WrongKeyOrCorrupt(t *testing.T) {
	alice := newIdentity(t)
	bob := newIdentity(t)

	ct, err := crypto.Seal(bob.XPub, []byte("for bob"))
	require.NoError(t, err)

	_, err = crypto.Open(alice.XPub, alice.XPriv, ct)
	require.ErrorIs(t, err, domain.ErrDecrypt)

	ct[len(ct)-1] ^= 0xFF
	_, err = crypto.Open(bob.XPub, bob.XPriv, ct)
	require.ErrorIs(t, err, domain.ErrDecrypt)

	_, err = crypto.Open(bob.XPub, bob.XPriv, ct[:10])
	require.ErrorIs(t, err, domain.ErrDecrypt)
}

func TestImportX25519_DerivesSamePublic(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	gotPriv, gotPub, err := crypto.ImportX25519(priv.Slice())
	require.NoError(t, err)
	assert.Equal(t, priv, gotPriv)
	assert.Equal(t, pub, gotPub)

	_, _, err = crypto.ImportX25519([]byte{1, 2, 3})
	require.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestParsePublicKey(t *testing.T) {
	id := newIdentity(t)

	got, err := crypto.ParsePublicKey(id.XPub.Hex())
	require.NoError(t, err)
	assert.Equal(t, id.XPub, got)

	got, err = crypto.ParsePublicKey("0x" + strings.ToUpper(id.XPub.Hex()))
	require.NoError(t, err)
	assert.Equal(t, id.XPub, got)

	_, err = crypto.ParsePublicKey("not-a-key")
	require.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestOnionAddress_RoundTrip(t *testing.T) {
	id := newIdentity(t)

	addr := crypto.OnionAddress(id.EdPub)
	require.True(t, strings.HasSuffix(string(addr), ".onion"))
	require.Len(t, string(addr), 56+len(".onion"))
	assert.Equal(t, id.Onion, addr)

	pub, err := crypto.OnionPublicKey(addr)
	require.NoError(t, err)
	assert.Equal(t, id.EdPub, pub)

	bad := []byte(addr)
	if bad[0] == 'a' {
		bad[0] = 'b'
	} else {
		bad[0] = 'a'
	}
	assert.False(t, crypto.ValidOnion(domain.OnionAddress(bad)))
	assert.False(t, crypto.ValidOnion("abc.onion"))
}

func TestTorPrivateKey_Format(t *testing.T) {
	id := newIdentity(t)
	k := crypto.TorPrivateKey(id.EdPriv)
	require.True(t, strings.HasPrefix(k, "ED25519-V3:"))
	// 64 bytes base64-encoded.
	assert.Len(t, strings.TrimPrefix(k, "ED25519-V3:"), 88)
}

func TestSafetyCode_Symmetric(t *testing.T) {
	a := newIdentity(t)
	b := newIdentity(t)

	ca, err := crypto.SafetyCode(a.XPriv, a.XPub, b.XPub)
	require.NoError(t, err)
	cb, err := crypto.SafetyCode(b.XPriv, b.XPub, a.XPub)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Len(t, ca, 24)
}

func TestSignVerify(t *testing.T) {
	id := newIdentity(t)
	sig := crypto.SignEd25519(id.EdPriv, []byte("msg"))
	assert.True(t, crypto.VerifyEd25519(id.EdPub, []byte("msg"), sig))
	assert.False(t, crypto.VerifyEd25519(id.EdPub, []byte("other"), sig))
}
