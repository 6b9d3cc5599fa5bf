package types

// Identity holds your long-term keys and the onion address peers reach you on.
//
// XPub/XPriv are the ECIES identity; EdPub/EdPriv sign envelopes and double as
// the onion-service key when tor runs embedded.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
	Onion  OnionAddress   `json:"onion"`
}

// PeerID returns the identifier other peers use for this identity.
func (id Identity) PeerID() PeerID { return id.XPub.PeerID() }

// PublicIdentity is the part of an Identity that is shared out of band.
type PublicIdentity struct {
	PublicKey   X25519Public `json:"public_key"`
	Onion       OnionAddress `json:"onion"`
	Fingerprint Fingerprint  `json:"fingerprint"`
}
