package types

import "time"

// ServerStateKind enumerates transport lifecycle and socket notifications.
type ServerStateKind string

const (
	ServerStarting           ServerStateKind = "starting"
	ServerBootstrapping      ServerStateKind = "bootstrapping"
	ServerRunning            ServerStateKind = "running"
	ServerStartFailed        ServerStateKind = "start_failed"
	ServerStopped            ServerStateKind = "stopped"
	ServerConnectionAccepted ServerStateKind = "connection_accepted"
	ServerBytesReceived      ServerStateKind = "bytes_received"
	ServerMessageAssembled   ServerStateKind = "message_assembled"
	ServerResponseSent       ServerStateKind = "response_sent"
	ServerPeerDisconnected   ServerStateKind = "peer_disconnected"
)

// ServerState is one notification on the transport's state stream.
//
// Only the fields relevant to Kind are set: Port for running, Progress for
// bootstrapping, Reason for start_failed, Size/Tag for byte and frame events,
// Conn/Onion for socket events.
type ServerState struct {
	Kind     ServerStateKind `json:"kind"`
	Port     int             `json:"port,omitempty"`
	Progress int             `json:"progress,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Conn     ConnID          `json:"conn,omitempty"`
	Onion    OnionAddress    `json:"onion,omitempty"`
	Size     int             `json:"size,omitempty"`
	Tag      byte            `json:"tag,omitempty"`
	At       time.Time       `json:"at"`
}

// EventKind enumerates chat-level notifications for the UI.
type EventKind string

const (
	EventRequestReceived  EventKind = "request_received"
	EventRequestConfirmed EventKind = "request_confirmed"
	EventRequestCancelled EventKind = "request_cancelled"
	EventRequestExpired   EventKind = "request_expired"
	EventMessageReceived  EventKind = "message_received"
	EventMessageStatus    EventKind = "message_status"
	EventMessageRemoved   EventKind = "message_removed"
	EventTyping           EventKind = "typing"
	EventContactUpdated   EventKind = "contact_updated"
)

// Event is a chat-level notification.
type Event struct {
	Kind      EventKind `json:"kind"`
	Peer      PeerID    `json:"peer"`
	Contact   *Contact  `json:"contact,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Typing    bool      `json:"typing,omitempty"`
	Rerequest bool      `json:"rerequest,omitempty"`
	At        time.Time `json:"at"`
}
