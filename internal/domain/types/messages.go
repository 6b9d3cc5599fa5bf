package types

import "time"

// Direction tells whether we authored a message.
type Direction string

const (
	DirectionOwn      Direction = "own"
	DirectionReceived Direction = "received"
)

// DeliveryStatus is the send state of an outbound message.
type DeliveryStatus string

const (
	StatusInProgress DeliveryStatus = "in_progress"
	StatusDelivered  DeliveryStatus = "delivered"
	StatusFailed     DeliveryStatus = "failed"
)

// PayloadKind distinguishes the content carried by a message.
type PayloadKind string

const (
	PayloadText     PayloadKind = "text"
	PayloadQuote    PayloadKind = "quote"
	PayloadReaction PayloadKind = "reaction"
	PayloadFile     PayloadKind = "file"
	PayloadSystem   PayloadKind = "system"
)

// FileRef points at a file blob kept by the store.
type FileRef struct {
	Transfer TransferID `json:"transfer"`
	Name     string     `json:"name"`
	Size     int64      `json:"size"`
}

// Payload is the application content of a message.
type Payload struct {
	Kind    PayloadKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	ReplyTo MessageID   `json:"reply_to,omitempty"`
	File    *FileRef    `json:"file,omitempty"`
}

// Message is one entry in a contact's history.
type Message struct {
	ID        MessageID      `json:"id"`
	Peer      PeerID         `json:"peer"`
	Direction Direction      `json:"direction"`
	Payload   Payload        `json:"payload"`
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
