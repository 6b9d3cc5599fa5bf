package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/curve25519"

	"ochat/internal/domain"
)

// ErrInvalidKey is returned when a key cannot be parsed or imported.
var ErrInvalidKey = errors.New("invalid key")

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], pb)
	return
}

// ImportX25519 clamps an existing private key and derives its public half.
func ImportX25519(raw []byte) (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if len(raw) != len(priv) {
		return priv, pub, ErrInvalidKey
	}
	copy(priv[:], raw)
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], pb)
	return priv, pub, nil
}

// ParsePublicKey accepts a hex (optionally 0x-prefixed) or base64 encoded X25519 key.
func ParsePublicKey(s string) (domain.X25519Public, error) {
	var pub domain.X25519Public
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")

	if b, err := hex.DecodeString(s); err == nil && len(b) == len(pub) {
		copy(pub[:], b)
		return pub, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == len(pub) {
		copy(pub[:], b)
		return pub, nil
	}
	return pub, ErrInvalidKey
}

// DH computes X25519 Diffie–Hellman.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
