package crypto

import (
	"runtime"

	"ochat/internal/domain"
	"ochat/internal/util/memzero"
)

// GenerateIdentity creates a fresh identity whose onion address is derived
// from its Ed25519 key.
func GenerateIdentity() (domain.Identity, error) {
	xpriv, xpub, err := GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	edpriv, edpub, err := GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		XPub:   xpub,
		XPriv:  xpriv,
		EdPub:  edpub,
		EdPriv: edpriv,
		Onion:  OnionAddress(edpub),
	}, nil
}

// ImportIdentity rebuilds an identity from an X25519 private key and an Ed25519 seed.
func ImportIdentity(xraw, edSeed []byte) (domain.Identity, error) {
	xpriv, xpub, err := ImportX25519(xraw)
	if err != nil {
		return domain.Identity{}, err
	}
	edpriv, edpub, err := Ed25519FromSeed(edSeed)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		XPub:   xpub,
		XPriv:  xpriv,
		EdPub:  edpub,
		EdPriv: edpriv,
		Onion:  OnionAddress(edpub),
	}, nil
}

// Wipe zeroes the provided buffer. This is best-effort.
//
//go:noinline
func Wipe(b []byte) {
	memzero.Zero(b)
	runtime.KeepAlive(&b)
}
