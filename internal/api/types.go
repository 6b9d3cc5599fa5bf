package api

import (
	"time"

	"ochat/internal/domain"
)

// Status is the body of GET /api/status.
type Status struct {
	Identity domain.PublicIdentity `json:"identity"`
	Running  bool                  `json:"running"`
	Onion    domain.OnionAddress   `json:"onion,omitempty"`
}

// ChatRequest is the body of POST /api/contacts.
type ChatRequest struct {
	PublicKey string `json:"public_key"`
	Onion     string `json:"onion"`
	Name      string `json:"name,omitempty"`
}

// SendRequest is the body of POST .../messages. ReplyTo turns the text into
// a quote; Reaction with ReplyTo sends a reaction instead.
type SendRequest struct {
	Text     string           `json:"text,omitempty"`
	ReplyTo  domain.MessageID `json:"reply_to,omitempty"`
	Reaction string           `json:"reaction,omitempty"`
}

// FileRequest is the body of POST .../files.
type FileRequest struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// TypingRequest is the body of POST .../typing.
type TypingRequest struct {
	Typing bool `json:"typing"`
}

// Sent answers a send with the new message id.
type Sent struct {
	ID domain.MessageID `json:"id"`
}

// Notification is one WebSocket message. Exactly one payload is set,
// matching Stream.
type Notification struct {
	Stream  string               `json:"stream"` // event, server or session
	Event   *domain.Event        `json:"event,omitempty"`
	Server  *domain.ServerState  `json:"server,omitempty"`
	Session *domain.SessionEvent `json:"session,omitempty"`
	At      time.Time            `json:"at"`
}

type errorBody struct {
	Error string `json:"error"`
}
