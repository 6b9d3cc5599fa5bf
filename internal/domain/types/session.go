package types

import "time"

// HandshakeStage is a session's position in the request/confirm exchange.
type HandshakeStage string

const (
	StageNone            HandshakeStage = "none"
	StageRequestSent     HandshakeStage = "request_sent"
	StageRequestReceived HandshakeStage = "request_received"
	StageConfirmed       HandshakeStage = "confirmed"
	StageEstablished     HandshakeStage = "established"
	StageCancelled       HandshakeStage = "cancelled"
	StageRejected        HandshakeStage = "rejected"
)

// Pending reports whether the stage waits on a user decision or peer reply.
func (s HandshakeStage) Pending() bool {
	return s == StageRequestSent || s == StageRequestReceived
}

// SessionParams are the values both peers hold once a session is established.
type SessionParams struct {
	PeerEncryptionKey X25519Public `json:"peer_encryption_key"`
	// SafetyCode is derived from the X25519 shared secret; both sides show the same value.
	SafetyCode string `json:"safety_code"`
}

// SessionInfo is a read-only snapshot of a live session.
type SessionInfo struct {
	Peer         PeerID         `json:"peer"`
	Onion        OnionAddress   `json:"onion"`
	Conn         ConnID         `json:"conn,omitempty"`
	Stage        HandshakeStage `json:"stage"`
	Params       SessionParams  `json:"params"`
	Initiator    bool           `json:"initiator"`
	LastActivity time.Time      `json:"last_activity"`
}

// SessionState is the connectivity of a contact as presented to the UI.
type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionReconnecting SessionState = "reconnecting"
	SessionDisconnected SessionState = "disconnected"
)

// SessionEvent reports a SessionState change for one contact.
type SessionEvent struct {
	Peer  PeerID       `json:"peer"`
	State SessionState `json:"state"`
	At    time.Time    `json:"at"`
}
