package envelope_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
)

func makeIdentity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func TestSealOpen_CarriesSender(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)

	ct, err := envelope.Seal(alice, bob.XPub, frame.TagText, envelope.Text{ID: "m1", Kind: domain.PayloadText, Text: "hello"})
	require.NoError(t, err)

	env, err := envelope.Open(bob, frame.TagText, ct)
	require.NoError(t, err)
	assert.Equal(t, alice.XPub, env.From)
	assert.Equal(t, alice.EdPub, env.SigningKey)
	assert.Equal(t, alice.Onion, env.Onion)
	assert.Equal(t, alice.PeerID(), env.Peer())

	var body envelope.Text
	require.NoError(t, env.Decode(frame.TagText, &body))
	assert.Equal(t, "hello", body.Text)
}

func TestOpen_WrongRecipientIsCryptoError(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	eve := makeIdentity(t)

	ct, err := envelope.Seal(alice, bob.XPub, frame.TagHandshakeStart, envelope.HandshakeStart{})
	require.NoError(t, err)

	_, err = envelope.Open(eve, frame.TagHandshakeStart, ct)
	var cerr *domain.CryptoError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, domain.ErrDecrypt)
}

func TestOpen_TagSwapFailsSignature(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)

	ct, err := envelope.Seal(alice, bob.XPub, frame.TagTyping, envelope.Typing{Typing: true})
	require.NoError(t, err)

	_, err = envelope.Open(bob, frame.TagText, ct)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestOpen_GarbageIsProtocolError(t *testing.T) {
	bob := makeIdentity(t)

	ct, err := crypto.Seal(bob.XPub, []byte("not json"))
	require.NoError(t, err)

	_, err = envelope.Open(bob, frame.TagText, ct)
	var perr *domain.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)
}

func TestOpen_RejectsInvalidOnion(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)

	for _, onion := range []domain.OnionAddress{"junk", "abc.onion", alice.Onion[1:]} {
		forged := alice
		forged.Onion = onion
		ct, err := envelope.Seal(forged, bob.XPub, frame.TagHandshakeStart, envelope.HandshakeStart{})
		require.NoError(t, err)

		_, err = envelope.Open(bob, frame.TagHandshakeStart, ct)
		var perr *domain.ProtocolError
		require.True(t, errors.As(err, &perr), "onion %q", onion)
		assert.ErrorIs(t, err, domain.ErrMalformedFrame)
	}

	upper := alice
	upper.Onion = domain.OnionAddress(strings.ToUpper(string(alice.Onion)))
	ct, err := envelope.Seal(upper, bob.XPub, frame.TagHandshakeStart, envelope.HandshakeStart{})
	require.NoError(t, err)
	env, err := envelope.Open(bob, frame.TagHandshakeStart, ct)
	require.NoError(t, err)
	assert.Equal(t, alice.Onion, env.Onion)
}
