package envelope

import "ochat/internal/domain"

// NonceSize is the length of the challenge a request carries.
const NonceSize = 32

// HandshakeStart opens a chat request. Sender keys and onion travel in the
// envelope header. Nonce is readable only by the recipient's private key.
type HandshakeStart struct {
	DisplayName string `json:"display_name,omitempty"`
	Nonce       []byte `json:"nonce"`
}

// HandshakeConfirm accepts a request and names the key further traffic
// should be sealed to. Nonce echoes the request's nonce, which proves the
// confirm comes from the holder of the requested key.
type HandshakeConfirm struct {
	EncryptionKey domain.X25519Public `json:"encryption_key"`
	DisplayName   string              `json:"display_name,omitempty"`
	Nonce         []byte              `json:"nonce"`
}

// Text carries a chat message of any non-file payload kind.
type Text struct {
	ID      domain.MessageID   `json:"id"`
	Kind    domain.PayloadKind `json:"kind"`
	Text    string             `json:"text"`
	ReplyTo domain.MessageID   `json:"reply_to,omitempty"`
}

// Typing is a presence hint.
type Typing struct {
	Typing bool `json:"typing"`
}

// FileChunk is one slice of a file transfer. Index runs from 0 to Total-1.
type FileChunk struct {
	Transfer domain.TransferID `json:"transfer"`
	ID       domain.MessageID  `json:"id"`
	Name     string            `json:"name"`
	Size     int64             `json:"size"`
	Index    int               `json:"index"`
	Total    int               `json:"total"`
	Data     []byte            `json:"data"`
}
