package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/nacl/box"

	"ochat/internal/domain"
)

// Overhead is the number of bytes Seal adds to a plaintext:
// an ephemeral X25519 public key plus a Poly1305 tag.
const Overhead = box.AnonymousOverhead

// Seal encrypts msg so only the holder of recipient's private key can read it.
//
// Each call uses a fresh ephemeral key; the output is
// ephemeral public key || XSalsa20-Poly1305 ciphertext.
func Seal(recipient domain.X25519Public, msg []byte) ([]byte, error) {
	pub := [32]byte(recipient)
	return box.SealAnonymous(nil, msg, &pub, rand.Reader)
}

// Open decrypts a Seal output with the local key pair.
// Any failure, including truncated input, is reported as domain.ErrDecrypt.
func Open(pub domain.X25519Public, priv domain.X25519Private, ct []byte) ([]byte, error) {
	if len(ct) < Overhead {
		return nil, domain.ErrDecrypt
	}
	pk, sk := [32]byte(pub), [32]byte(priv)
	defer Wipe(sk[:])

	msg, ok := box.OpenAnonymous(nil, ct, &pk, &sk)
	if !ok {
		return nil, domain.ErrDecrypt
	}
	return msg, nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
