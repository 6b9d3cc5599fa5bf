package message

import (
	"context"

	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/services/session"
)

func (c *Channel) handleText(ctx context.Context, in session.Inbound) error {
	var body envelope.Text
	if err := in.Envelope.Decode(frame.TagText, &body); err != nil {
		return err
	}
	if body.ID == "" {
		return malformed(frame.TagText)
	}
	switch body.Kind {
	case "":
		body.Kind = domain.PayloadText
	case domain.PayloadText, domain.PayloadQuote, domain.PayloadReaction, domain.PayloadSystem:
	default:
		return malformed(frame.TagText)
	}
	peer := in.Session.Peer()

	if dup, err := c.seen(ctx, frame.TagText, peer, body.ID); err != nil || dup {
		return err
	}
	msg := c.received(peer, body.ID, domain.Payload{Kind: body.Kind, Text: body.Text, ReplyTo: body.ReplyTo})
	if err := c.messages.AppendMessage(ctx, msg); err != nil {
		return err
	}
	c.publish(domain.EventMessageReceived, msg)
	return nil
}

func (c *Channel) handleTyping(_ context.Context, in session.Inbound) error {
	var body envelope.Typing
	if err := in.Envelope.Decode(frame.TagTyping, &body); err != nil {
		return err
	}
	if !in.Session.Contact().Rules.TypingIndicator {
		return nil
	}
	if c.events != nil {
		c.events.Publish(domain.Event{
			Kind:   domain.EventTyping,
			Peer:   in.Session.Peer(),
			Typing: body.Typing,
			At:     c.now(),
		})
	}
	return nil
}

// seen reports whether id is already in history. An id that belongs to
// another peer or to one of our own messages is rejected.
func (c *Channel) seen(ctx context.Context, tag frame.Tag, peer domain.PeerID, id domain.MessageID) (bool, error) {
	prev, ok, err := c.messages.LoadMessage(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if prev.Peer != peer || prev.Direction != domain.DirectionReceived {
		return true, malformed(tag)
	}
	return true, nil
}

func (c *Channel) received(peer domain.PeerID, id domain.MessageID, payload domain.Payload) domain.Message {
	now := c.now()
	return domain.Message{
		ID:        id,
		Peer:      peer,
		Direction: domain.DirectionReceived,
		Payload:   payload,
		Status:    domain.StatusDelivered,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func malformed(tag frame.Tag) error {
	return &domain.ProtocolError{Tag: byte(tag), Err: domain.ErrMalformedFrame}
}
