package types

import "strings"

// PeerID identifies a contact by the lowercase hex of its X25519 identity key.
type PeerID string

// String returns the string form of the peer identifier.
func (p PeerID) String() string { return string(p) }

// Short returns an abbreviated form for logs and listings.
func (p PeerID) Short() string {
	if len(p) <= 12 {
		return string(p)
	}
	return string(p[:6]) + "…" + string(p[len(p)-6:])
}

// OnionAddress is a v3 onion service address including the ".onion" suffix.
type OnionAddress string

// String returns the string form of the onion address.
func (a OnionAddress) String() string { return string(a) }

// Normalize lowercases the address and appends ".onion" when missing.
func (a OnionAddress) Normalize() OnionAddress {
	s := strings.ToLower(strings.TrimSpace(string(a)))
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, ".onion") {
		s += ".onion"
	}
	return OnionAddress(s)
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// MessageID uniquely identifies a message in local history.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// TransferID identifies a chunked file transfer.
type TransferID string

// String returns the string form of the transfer identifier.
func (id TransferID) String() string { return string(id) }

// ConnID identifies a live socket inside the transport.
type ConnID uint64
