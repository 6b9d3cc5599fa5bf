package types

import (
	"encoding/hex"
	"errors"
)

var errKeyLength = errors.New("invalid key length")

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// Hex returns the lowercase hex encoding of the key.
func (p X25519Public) Hex() string { return hex.EncodeToString(p[:]) }

// PeerID returns the registry identifier derived from the key.
func (p X25519Public) PeerID() PeerID { return PeerID(p.Hex()) }

// IsZero reports whether the key is unset.
func (p X25519Public) IsZero() bool { return p == X25519Public{} }

// MarshalText encodes the key as hex.
func (p X25519Public) MarshalText() ([]byte, error) { return []byte(p.Hex()), nil }

// UnmarshalText decodes a hex-encoded key.
func (p *X25519Public) UnmarshalText(b []byte) error {
	return decodeFixed(p[:], b)
}

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is unset.
func (p Ed25519Public) IsZero() bool { return p == Ed25519Public{} }

// MarshalText encodes the key as hex.
func (p Ed25519Public) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p[:])), nil
}

// UnmarshalText decodes a hex-encoded key.
func (p *Ed25519Public) UnmarshalText(b []byte) error {
	return decodeFixed(p[:], b)
}

// Ed25519Private is an Ed25519 signing private key (seed || public).
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

func decodeFixed(dst, src []byte) error {
	if hex.DecodedLen(len(src)) != len(dst) {
		return errKeyLength
	}
	_, err := hex.Decode(dst, src)
	return err
}
