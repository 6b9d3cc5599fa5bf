package domain

import (
	interfaces "ochat/internal/domain/interfaces"
	types "ochat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	PeerID          = types.PeerID
	OnionAddress    = types.OnionAddress
	Fingerprint     = types.Fingerprint
	MessageID       = types.MessageID
	TransferID      = types.TransferID
	ConnID          = types.ConnID
	X25519Public    = types.X25519Public
	X25519Private   = types.X25519Private
	Ed25519Public   = types.Ed25519Public
	Ed25519Private  = types.Ed25519Private
	Identity        = types.Identity
	PublicIdentity  = types.PublicIdentity
	Contact         = types.Contact
	ContactStatus   = types.ContactStatus
	ChatRules       = types.ChatRules
	HandshakeStage  = types.HandshakeStage
	SessionParams   = types.SessionParams
	SessionInfo     = types.SessionInfo
	SessionState    = types.SessionState
	SessionEvent    = types.SessionEvent
	Direction       = types.Direction
	DeliveryStatus  = types.DeliveryStatus
	PayloadKind     = types.PayloadKind
	Payload         = types.Payload
	FileRef         = types.FileRef
	Message         = types.Message
	ServerStateKind = types.ServerStateKind
	ServerState     = types.ServerState
	EventKind       = types.EventKind
	Event           = types.Event
	TransportError  = types.TransportError
	CryptoError     = types.CryptoError
	ProtocolError   = types.ProtocolError
	ServiceError    = types.ServiceError
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	Transport       = interfaces.Transport
	KeyValueStore   = interfaces.KeyValueStore
	IdentityStore   = interfaces.IdentityStore
	ContactStore    = interfaces.ContactStore
	MessageStore    = interfaces.MessageStore
	BlobStore       = interfaces.BlobStore
)

// Re-exported constants and sentinels.
const (
	ContactRequested = types.ContactRequested
	ContactConfirmed = types.ContactConfirmed
	ContactBlocked   = types.ContactBlocked
	ContactCancelled = types.ContactCancelled
	ContactExpired   = types.ContactExpired

	StageNone            = types.StageNone
	StageRequestSent     = types.StageRequestSent
	StageRequestReceived = types.StageRequestReceived
	StageConfirmed       = types.StageConfirmed
	StageEstablished     = types.StageEstablished
	StageCancelled       = types.StageCancelled
	StageRejected        = types.StageRejected

	SessionConnecting   = types.SessionConnecting
	SessionConnected    = types.SessionConnected
	SessionReconnecting = types.SessionReconnecting
	SessionDisconnected = types.SessionDisconnected

	DirectionOwn      = types.DirectionOwn
	DirectionReceived = types.DirectionReceived

	StatusInProgress = types.StatusInProgress
	StatusDelivered  = types.StatusDelivered
	StatusFailed     = types.StatusFailed

	PayloadText     = types.PayloadText
	PayloadQuote    = types.PayloadQuote
	PayloadReaction = types.PayloadReaction
	PayloadFile     = types.PayloadFile
	PayloadSystem   = types.PayloadSystem

	ServerStarting           = types.ServerStarting
	ServerBootstrapping      = types.ServerBootstrapping
	ServerRunning            = types.ServerRunning
	ServerStartFailed        = types.ServerStartFailed
	ServerStopped            = types.ServerStopped
	ServerConnectionAccepted = types.ServerConnectionAccepted
	ServerBytesReceived      = types.ServerBytesReceived
	ServerMessageAssembled   = types.ServerMessageAssembled
	ServerResponseSent       = types.ServerResponseSent
	ServerPeerDisconnected   = types.ServerPeerDisconnected

	EventRequestReceived  = types.EventRequestReceived
	EventRequestConfirmed = types.EventRequestConfirmed
	EventRequestCancelled = types.EventRequestCancelled
	EventRequestExpired   = types.EventRequestExpired
	EventMessageReceived  = types.EventMessageReceived
	EventMessageStatus    = types.EventMessageStatus
	EventMessageRemoved   = types.EventMessageRemoved
	EventTyping           = types.EventTyping
	EventContactUpdated   = types.EventContactUpdated
)

var (
	ErrBindFailed       = types.ErrBindFailed
	ErrBootstrapTimeout = types.ErrBootstrapTimeout
	ErrNotRunning       = types.ErrNotRunning
	ErrStopped          = types.ErrStopped
	ErrPeerUnreachable  = types.ErrPeerUnreachable
	ErrWriteFailed      = types.ErrWriteFailed
	ErrReadFailed       = types.ErrReadFailed
	ErrDecrypt          = types.ErrDecrypt
	ErrBadSignature     = types.ErrBadSignature
	ErrMalformedFrame   = types.ErrMalformedFrame
	ErrFrameTooLarge    = types.ErrFrameTooLarge
	ErrUnexpectedTag    = types.ErrUnexpectedTag
	ErrNotEstablished   = types.ErrNotEstablished
	ErrUnknownContact   = types.ErrUnknownContact
	ErrContactBlocked   = types.ErrContactBlocked
	ErrKeyMismatch      = types.ErrKeyMismatch
	ErrNoPendingRequest = types.ErrNoPendingRequest
)

// DefaultChatRules returns the rules applied to new contacts.
func DefaultChatRules() ChatRules { return types.DefaultChatRules() }
