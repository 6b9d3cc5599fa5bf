package types

import "time"

// ContactStatus tracks where a contact sits in the request/confirm lifecycle.
type ContactStatus string

const (
	ContactRequested ContactStatus = "requested"
	ContactConfirmed ContactStatus = "confirmed"
	ContactBlocked   ContactStatus = "blocked"
	// ContactCancelled marks a request either side cancelled; it is not offered as pending.
	ContactCancelled ContactStatus = "cancelled"
	// ContactExpired marks a request nobody confirmed within the handshake window.
	ContactExpired ContactStatus = "expired"
)

// ChatRules are per-contact preferences that change protocol behaviour.
type ChatRules struct {
	TypingIndicator bool          `json:"typing_indicator"`
	AutoDeleteAfter time.Duration `json:"auto_delete_after,omitempty"`
}

// DefaultChatRules returns the rules applied to new contacts.
func DefaultChatRules() ChatRules { return ChatRules{TypingIndicator: true} }

// Contact is a peer known to this identity.
type Contact struct {
	PublicKey           X25519Public  `json:"public_key"`
	SigningKey          Ed25519Public `json:"signing_key"`
	Onion               OnionAddress  `json:"onion"`
	DisplayName         string        `json:"display_name,omitempty"`
	Status              ContactStatus `json:"status"`
	EncryptionPublicKey *X25519Public `json:"encryption_public_key,omitempty"`
	IsPasswordProtected bool          `json:"is_password_protected"`
	Rules               ChatRules     `json:"rules"`
	// RequestSent is true while a request we sent awaits confirmation.
	RequestSent bool `json:"request_sent,omitempty"`
	// RequestedAt is when the open request was sent or received.
	RequestedAt time.Time `json:"requested_at,omitempty"`
	// RequestNonce is the open request's challenge: ours while RequestSent,
	// the peer's otherwise. A confirm must echo it.
	RequestNonce []byte    `json:"request_nonce,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ID returns the contact's registry identifier.
func (c Contact) ID() PeerID { return c.PublicKey.PeerID() }

// EncryptionKey returns the key outbound envelopes are sealed to.
func (c Contact) EncryptionKey() X25519Public {
	if c.EncryptionPublicKey != nil && !c.EncryptionPublicKey.IsZero() {
		return *c.EncryptionPublicKey
	}
	return c.PublicKey
}

// Pending reports whether the contact has an open, unanswered request.
func (c Contact) Pending() bool { return c.Status == ContactRequested }
