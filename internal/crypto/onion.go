package crypto

import (
	"crypto/sha512"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"

	"ochat/internal/domain"
)

const onionVersion = 0x03

// ErrInvalidOnion is returned for addresses that are not v3 onion addresses.
var ErrInvalidOnion = errors.New("invalid v3 onion address")

var onionEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OnionAddress derives the v3 onion address served by an Ed25519 key.
//
//	address = base32(pubkey || checksum[:2] || 0x03) + ".onion"
//	checksum = SHA3-256(".onion checksum" || pubkey || 0x03)
func OnionAddress(pub domain.Ed25519Public) domain.OnionAddress {
	buf := make([]byte, 0, 35)
	buf = append(buf, pub[:]...)
	buf = append(buf, onionChecksum(pub[:])...)
	buf = append(buf, onionVersion)
	return domain.OnionAddress(strings.ToLower(onionEncoding.EncodeToString(buf)) + ".onion")
}

// OnionPublicKey recovers the Ed25519 key from a v3 onion address and checks its checksum.
func OnionPublicKey(addr domain.OnionAddress) (domain.Ed25519Public, error) {
	var pub domain.Ed25519Public

	s := strings.TrimSuffix(string(addr.Normalize()), ".onion")
	raw, err := onionEncoding.DecodeString(strings.ToUpper(s))
	if err != nil || len(raw) != 35 || raw[34] != onionVersion {
		return pub, ErrInvalidOnion
	}
	sum := onionChecksum(raw[:32])
	if raw[32] != sum[0] || raw[33] != sum[1] {
		return pub, ErrInvalidOnion
	}
	copy(pub[:], raw[:32])
	return pub, nil
}

// ValidOnion reports whether addr is a well-formed v3 onion address.
func ValidOnion(addr domain.OnionAddress) bool {
	_, err := OnionPublicKey(addr)
	return err == nil
}

// TorPrivateKey renders an Ed25519 key in the "ED25519-V3:<base64>" form tor
// accepts in ADD_ONION, i.e. the expanded 64-byte secret.
func TorPrivateKey(priv domain.Ed25519Private) string {
	h := sha512.Sum512(priv[:32])
	defer Wipe(h[:])

	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return "ED25519-V3:" + base64.StdEncoding.EncodeToString(h[:])
}

func onionChecksum(pub []byte) []byte {
	h := sha3.New256()
	h.Write([]byte(".onion checksum"))
	h.Write(pub)
	h.Write([]byte{onionVersion})
	return h.Sum(nil)[:2]
}
