package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"ochat/internal/domain"
)

// Tag identifies the message type carried by a frame.
type Tag byte

const (
	TagHandshakeStart   Tag = 0x01
	TagHandshakeConfirm Tag = 0x02
	TagText             Tag = 0x03
	TagTyping           Tag = 0x04
	TagFileChunk        Tag = 0x05
)

const (
	// HeaderSize is the length prefix size in bytes.
	HeaderSize = 4
	// DefaultMaxSize bounds tag+payload of a single frame.
	DefaultMaxSize = 1 << 20
)

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool { return t >= TagHandshakeStart && t <= TagFileChunk }

// Handshake reports whether t belongs to the handshake exchange.
func (t Tag) Handshake() bool { return t == TagHandshakeStart || t == TagHandshakeConfirm }

func (t Tag) String() string {
	switch t {
	case TagHandshakeStart:
		return "handshake_start"
	case TagHandshakeConfirm:
		return "handshake_confirm"
	case TagText:
		return "text"
	case TagTyping:
		return "typing"
	case TagFileChunk:
		return "file_chunk"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(t))
	}
}

// Frame is one length-delimited unit read from a socket.
type Frame struct {
	Tag     Tag
	Payload []byte
	// Conn is the socket the frame arrived on; zero for outbound frames.
	Conn domain.ConnID
}

// Encode renders [4-byte BE length][tag][payload]; length covers tag+payload.
func Encode(tag Tag, payload []byte) []byte {
	b := make([]byte, HeaderSize+1+len(payload))
	binary.BigEndian.PutUint32(b[:HeaderSize], uint32(1+len(payload)))
	b[HeaderSize] = byte(tag)
	copy(b[HeaderSize+1:], payload)
	return b
}

// Write encodes a frame and writes it with a single Write call so frames
// written by concurrent callers that share a lock never interleave.
func Write(w io.Writer, tag Tag, payload []byte) error {
	_, err := w.Write(Encode(tag, payload))
	return err
}

// Reader splits a byte stream into frames.
type Reader struct {
	r   *bufio.Reader
	max int
	hdr [HeaderSize]byte
}

// NewReader returns a Reader that rejects frames larger than maxSize bytes.
// maxSize <= 0 selects DefaultMaxSize.
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Reader{r: bufio.NewReader(r), max: maxSize}
}

// Next reads the next complete frame, blocking across partial reads.
//
// An unknown tag yields a *domain.ProtocolError wrapping domain.ErrUnexpectedTag
// while keeping the stream in sync; the caller may drop it and keep reading.
// Oversized or empty frames desynchronise the stream and must end the connection.
func (r *Reader) Next() (Frame, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(r.hdr[:])
	if n == 0 {
		return Frame{}, &domain.ProtocolError{Err: domain.ErrMalformedFrame}
	}
	if int64(n) > int64(r.max) {
		return Frame{}, &domain.ProtocolError{Err: domain.ErrFrameTooLarge}
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	f := Frame{Tag: Tag(body[0]), Payload: body[1:]}
	if !f.Tag.Valid() {
		return f, &domain.ProtocolError{Tag: body[0], Err: domain.ErrUnexpectedTag}
	}
	return f, nil
}

// Recoverable reports whether err leaves the stream usable.
func Recoverable(err error) bool {
	return errors.Is(err, domain.ErrUnexpectedTag)
}
