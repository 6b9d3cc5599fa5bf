package envelope

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/protocol/frame"
)

const signatureLabel = "ochat/envelope/v1"

// Envelope is the plaintext sealed inside every frame.
//
// From, SigningKey and Onion identify the sender; Sig is an Ed25519 signature
// by SigningKey over the tag and every other field, so a frame cannot be
// replayed under a different tag or re-attributed to another sender.
type Envelope struct {
	From       domain.X25519Public  `json:"from"`
	SigningKey domain.Ed25519Public `json:"signing_key"`
	Onion      domain.OnionAddress  `json:"onion"`
	SentAt     int64                `json:"sent_at"`
	Body       json.RawMessage      `json:"body"`
	Sig        []byte               `json:"sig"`
}

// Peer returns the sender's registry identifier.
func (e *Envelope) Peer() domain.PeerID { return e.From.PeerID() }

// Time returns the sender's clock at sealing time.
func (e *Envelope) Time() time.Time { return time.Unix(0, e.SentAt) }

// Decode unmarshals the body into v, reporting failures as protocol errors.
func (e *Envelope) Decode(tag frame.Tag, v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return &domain.ProtocolError{Tag: byte(tag), Err: domain.ErrMalformedFrame}
	}
	return nil
}

// Seal builds, signs and encrypts an envelope carrying body for recipient.
func Seal(id domain.Identity, recipient domain.X25519Public, tag frame.Tag, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	env := Envelope{
		From:       id.XPub,
		SigningKey: id.EdPub,
		Onion:      id.Onion,
		SentAt:     time.Now().UnixNano(),
		Body:       raw,
	}
	env.Sig = crypto.SignEd25519(id.EdPriv, signedBytes(tag, &env))

	pt, err := json.Marshal(&env)
	if err != nil {
		return nil, err
	}
	return crypto.Seal(recipient, pt)
}

// Open decrypts and verifies a frame payload addressed to id.
//
// Decryption or signature failures return *domain.CryptoError; a payload that
// decrypts but does not parse, or names an invalid onion, returns
// *domain.ProtocolError.
func Open(id domain.Identity, tag frame.Tag, ct []byte) (*Envelope, error) {
	pt, err := crypto.Open(id.XPub, id.XPriv, ct)
	if err != nil {
		return nil, &domain.CryptoError{Op: "open", Err: err}
	}
	var env Envelope
	if err := json.Unmarshal(pt, &env); err != nil {
		return nil, &domain.ProtocolError{Tag: byte(tag), Err: domain.ErrMalformedFrame}
	}
	if env.From.IsZero() || env.SigningKey.IsZero() || !crypto.ValidOnion(env.Onion.Normalize()) {
		return nil, &domain.ProtocolError{Tag: byte(tag), Err: domain.ErrMalformedFrame}
	}
	if !crypto.VerifyEd25519(env.SigningKey, signedBytes(tag, &env), env.Sig) {
		return nil, &domain.CryptoError{Op: "verify", Err: domain.ErrBadSignature}
	}
	env.Onion = env.Onion.Normalize()
	return &env, nil
}

func signedBytes(tag frame.Tag, env *Envelope) []byte {
	b := make([]byte, 0, len(signatureLabel)+1+32+32+len(env.Onion)+8+len(env.Body))
	b = append(b, signatureLabel...)
	b = append(b, byte(tag))
	b = append(b, env.From[:]...)
	b = append(b, env.SigningKey[:]...)
	b = append(b, env.Onion...)
	b = binary.BigEndian.AppendUint64(b, uint64(env.SentAt))
	b = append(b, env.Body...)
	return b
}
