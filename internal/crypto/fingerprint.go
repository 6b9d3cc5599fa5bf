package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"ochat/internal/domain"
)

const safetyCodeLabel = "ochat/safety-code/v1"

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:10])
}

// SafetyCode derives a code both peers can compare to detect a substituted key.
// The result does not depend on which side computes it.
func SafetyCode(priv domain.X25519Private, own, peer domain.X25519Public) (string, error) {
	shared, err := DH(priv, peer)
	if err != nil {
		return "", err
	}
	defer Wipe(shared[:])

	lo, hi := own[:], peer[:]
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	salt := append(append([]byte{}, lo...), hi...)

	out := make([]byte, 10)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared[:], salt, []byte(safetyCodeLabel)), out); err != nil {
		return "", err
	}
	enc := hex.EncodeToString(out)
	groups := make([]string, 0, 5)
	for i := 0; i < len(enc); i += 4 {
		groups = append(groups, enc[i:i+4])
	}
	return strings.Join(groups, "-"), nil
}
