package frame_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/domain"
	"ochat/internal/protocol/frame"
)

// oneByteReader forces every Read to return a single byte.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestEncode_Layout(t *testing.T) {
	b := frame.Encode(frame.TagText, []byte{0xAA, 0xBB})
	assert.Equal(t, []byte{0, 0, 0, 3, 0x03, 0xAA, 0xBB}, b)
}

func TestReader_PartialReadsReassemble(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.Write(&buf, frame.TagHandshakeStart, []byte("first")))
	require.NoError(t, frame.Write(&buf, frame.TagTyping, nil))
	require.NoError(t, frame.Write(&buf, frame.TagFileChunk, bytes.Repeat([]byte{7}, 4096)))

	r := frame.NewReader(oneByteReader{&buf}, 0)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, frame.TagHandshakeStart, f.Tag)
	assert.Equal(t, "first", string(f.Payload))

	f, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, frame.TagTyping, f.Tag)
	assert.Empty(t, f.Payload)

	f, err = r.Next()
	require.NoError(t, err)
	assert.Len(t, f.Payload, 4096)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_TruncatedBody(t *testing.T) {
	b := frame.Encode(frame.TagText, []byte("hello"))
	r := frame.NewReader(bytes.NewReader(b[:len(b)-2]), 0)

	_, err := r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_UnknownTagKeepsSync(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 2, 0x7F, 0x00})
	require.NoError(t, frame.Write(&buf, frame.TagText, []byte("ok")))

	r := frame.NewReader(&buf, 0)
	_, err := r.Next()
	var perr *domain.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, byte(0x7F), perr.Tag)
	assert.True(t, frame.Recoverable(err))

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(f.Payload))
}

func TestReader_Limits(t *testing.T) {
	r := frame.NewReader(bytes.NewReader([]byte{0, 0, 0, 0}), 0)
	_, err := r.Next()
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)
	assert.False(t, frame.Recoverable(err))

	big := frame.Encode(frame.TagText, make([]byte, 100))
	r = frame.NewReader(bytes.NewReader(big), 50)
	_, err = r.Next()
	assert.ErrorIs(t, err, domain.ErrFrameTooLarge)
}
