package message

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/services/delivery"
	"ochat/internal/services/session"
)

// transfer collects the chunks of one inbound file.
type transfer struct {
	peer    domain.PeerID
	id      domain.MessageID
	name    string
	size    int64
	chunks  [][]byte
	have    int
	started time.Time
}

// SendFile queues data as a file message. The bytes are kept in the blob
// store so the message can be retried later.
func (c *Channel) SendFile(ctx context.Context, peer domain.PeerID, name string, data []byte) (domain.MessageID, error) {
	if int64(len(data)) > c.cfg.MaxFileSize {
		return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(data))
	}
	s, err := c.reg.Established(ctx, peer)
	if err != nil {
		return "", err
	}

	ref := &domain.FileRef{
		Transfer: domain.TransferID(uuid.NewString()),
		Name:     filepath.Base(name),
		Size:     int64(len(data)),
	}
	if err := c.blobs.SaveBlob(ctx, ref.Transfer, data); err != nil {
		return "", err
	}
	msg := domain.Message{
		ID:      domain.MessageID(uuid.NewString()),
		Peer:    peer,
		Payload: domain.Payload{Kind: domain.PayloadFile, Text: ref.Name, File: ref},
	}
	send, err := c.sealChunks(s.Contact(), msg, data)
	if err != nil {
		return "", err
	}
	return c.track(ctx, msg, send)
}

// File returns the contents of a stored transfer.
func (c *Channel) File(ctx context.Context, id domain.TransferID) ([]byte, error) {
	data, ok, err := c.blobs.LoadBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("file %s not found", id)
	}
	return data, nil
}

func (c *Channel) sealFile(ctx context.Context, contact domain.Contact, msg domain.Message) (delivery.SendFunc, error) {
	if msg.Payload.File == nil {
		return nil, fmt.Errorf("message %s has no file", msg.ID)
	}
	data, err := c.File(ctx, msg.Payload.File.Transfer)
	if err != nil {
		return nil, err
	}
	return c.sealChunks(contact, msg, data)
}

func (c *Channel) sealChunks(contact domain.Contact, msg domain.Message, data []byte) (delivery.SendFunc, error) {
	ref := msg.Payload.File
	total := (len(data) + c.cfg.ChunkSize - 1) / c.cfg.ChunkSize
	if total == 0 {
		total = 1
	}

	cts := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		lo := i * c.cfg.ChunkSize
		hi := min(lo+c.cfg.ChunkSize, len(data))
		ct, err := c.reg.Seal(contact.EncryptionKey(), frame.TagFileChunk, envelope.FileChunk{
			Transfer: ref.Transfer,
			ID:       msg.ID,
			Name:     ref.Name,
			Size:     ref.Size,
			Index:    i,
			Total:    total,
			Data:     data[lo:hi],
		})
		if err != nil {
			return nil, err
		}
		cts = append(cts, ct)
	}
	return c.transmit(msg.Peer, frame.TagFileChunk, cts...), nil
}

func (c *Channel) handleFileChunk(ctx context.Context, in session.Inbound) error {
	var body envelope.FileChunk
	if err := in.Envelope.Decode(frame.TagFileChunk, &body); err != nil {
		return err
	}
	maxChunks := int(c.cfg.MaxFileSize/int64(c.cfg.ChunkSize)) + 1
	if body.Transfer == "" || body.ID == "" || body.Total < 1 || body.Total > maxChunks ||
		body.Index < 0 || body.Index >= body.Total || body.Size < 0 || body.Size > c.cfg.MaxFileSize {
		return malformed(frame.TagFileChunk)
	}
	peer := in.Session.Peer()

	c.mu.Lock()
	t, ok := c.transfers[body.Transfer]
	if !ok {
		t = &transfer{
			peer:    peer,
			id:      body.ID,
			name:    filepath.Base(body.Name),
			size:    body.Size,
			chunks:  make([][]byte, body.Total),
			started: c.now(),
		}
		c.transfers[body.Transfer] = t
	}
	if t.peer != peer || t.id != body.ID || len(t.chunks) != body.Total {
		c.mu.Unlock()
		return malformed(frame.TagFileChunk)
	}
	if t.chunks[body.Index] == nil {
		t.chunks[body.Index] = body.Data
		t.have++
	}
	if t.have < len(t.chunks) {
		c.mu.Unlock()
		return nil
	}
	delete(c.transfers, body.Transfer)
	c.mu.Unlock()

	data := bytes.Join(t.chunks, nil)
	if int64(len(data)) != t.size {
		return malformed(frame.TagFileChunk)
	}
	if dup, err := c.seen(ctx, frame.TagFileChunk, peer, t.id); err != nil || dup {
		return err
	}
	if err := c.blobs.SaveBlob(ctx, body.Transfer, data); err != nil {
		return err
	}

	ref := &domain.FileRef{Transfer: body.Transfer, Name: t.name, Size: t.size}
	msg := c.received(peer, t.id, domain.Payload{Kind: domain.PayloadFile, Text: t.name, File: ref})
	if err := c.messages.AppendMessage(ctx, msg); err != nil {
		return err
	}
	c.log.Debug("file received", zap.String("peer", peer.Short()), zap.Int64("size", t.size))
	c.publish(domain.EventMessageReceived, msg)
	return nil
}

func (c *Channel) dropStaleTransfers(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.transfers {
		if now.Sub(t.started) >= c.cfg.TransferTimeout {
			c.log.Info("dropping incomplete transfer", zap.String("transfer", id.String()), zap.String("peer", t.peer.Short()))
			delete(c.transfers, id)
		}
	}
}
