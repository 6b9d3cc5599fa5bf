package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/services/delivery"
	"ochat/internal/services/session"
	"ochat/internal/util/broadcast"
)

var (
	// ErrEmptyMessage is returned for a text send with nothing to send.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrFileTooLarge is returned by SendFile above Config.MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
)

// Config tunes the channel.
type Config struct {
	// ChunkSize is the file bytes carried by one file-chunk frame.
	ChunkSize int
	// MaxFileSize bounds sent and received files.
	MaxFileSize int64
	// TypingInterval is the minimum gap between typing=true frames to a peer.
	TypingInterval time.Duration
	// TransferTimeout drops incomplete inbound transfers.
	TransferTimeout time.Duration
}

const (
	DefaultChunkSize       = 32 << 10
	DefaultMaxFileSize     = 64 << 20
	DefaultTypingInterval  = 2 * time.Second
	DefaultTransferTimeout = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = DefaultTypingInterval
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = DefaultTransferTimeout
	}
	return c
}

// Channel is the message service for one identity.
type Channel struct {
	cfg      Config
	reg      *session.Registry
	tracker  *delivery.Tracker
	messages domain.MessageStore
	blobs    domain.BlobStore
	events   *broadcast.Hub[domain.Event]
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	typing    map[domain.PeerID]*rate.Limiter
	transfers map[domain.TransferID]*transfer
}

// New returns a Channel and registers its frame handlers on reg.
func New(
	cfg Config,
	reg *session.Registry,
	tracker *delivery.Tracker,
	messages domain.MessageStore,
	blobs domain.BlobStore,
	events *broadcast.Hub[domain.Event],
	log *zap.Logger,
) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Channel{
		cfg:       cfg.withDefaults(),
		reg:       reg,
		tracker:   tracker,
		messages:  messages,
		blobs:     blobs,
		events:    events,
		log:       log.Named("message"),
		now:       time.Now,
		typing:    make(map[domain.PeerID]*rate.Limiter),
		transfers: make(map[domain.TransferID]*transfer),
	}
	reg.Handle(frame.TagText, c.handleText)
	reg.Handle(frame.TagTyping, c.handleTyping)
	reg.Handle(frame.TagFileChunk, c.handleFileChunk)
	tracker.SetResender(c.resend)
	return c
}

// SendText queues a text message to peer and returns its id. The message is
// in history as in_progress when SendText returns.
func (c *Channel) SendText(ctx context.Context, peer domain.PeerID, text string) (domain.MessageID, error) {
	if text == "" {
		return "", ErrEmptyMessage
	}
	return c.send(ctx, peer, domain.Payload{Kind: domain.PayloadText, Text: text})
}

// SendReply queues a text message quoting replyTo.
func (c *Channel) SendReply(ctx context.Context, peer domain.PeerID, replyTo domain.MessageID, text string) (domain.MessageID, error) {
	if text == "" {
		return "", ErrEmptyMessage
	}
	return c.send(ctx, peer, domain.Payload{Kind: domain.PayloadQuote, Text: text, ReplyTo: replyTo})
}

// SendReaction queues a reaction to the message to.
func (c *Channel) SendReaction(ctx context.Context, peer domain.PeerID, to domain.MessageID, reaction string) (domain.MessageID, error) {
	if reaction == "" || to == "" {
		return "", ErrEmptyMessage
	}
	return c.send(ctx, peer, domain.Payload{Kind: domain.PayloadReaction, Text: reaction, ReplyTo: to})
}

func (c *Channel) send(ctx context.Context, peer domain.PeerID, payload domain.Payload) (domain.MessageID, error) {
	s, err := c.reg.Established(ctx, peer)
	if err != nil {
		return "", err
	}
	msg := domain.Message{
		ID:      domain.MessageID(uuid.NewString()),
		Peer:    peer,
		Payload: payload,
	}
	send, err := c.sealText(s.Contact(), msg)
	if err != nil {
		return "", err
	}
	return c.track(ctx, msg, send)
}

// track registers msg and queues its first attempt.
func (c *Channel) track(ctx context.Context, msg domain.Message, send delivery.SendFunc) (domain.MessageID, error) {
	if _, err := c.tracker.Track(ctx, msg, send); err != nil {
		return "", err
	}
	if err := c.schedule(ctx, msg.Peer, msg.ID); err != nil {
		return msg.ID, c.unschedulable(ctx, msg.ID, err)
	}
	return msg.ID, nil
}

// unschedulable marks id failed after its attempt could not be queued, so it
// is offered for Retry instead of waiting in progress until a restart.
func (c *Channel) unschedulable(ctx context.Context, id domain.MessageID, cause error) error {
	if err := c.tracker.Fail(context.WithoutCancel(ctx), id, cause); err != nil {
		c.log.Warn("mark message failed", zap.String("id", id.String()), zap.Error(err))
	}
	return cause
}

// schedule queues a delivery attempt for id on the peer's session FIFO.
func (c *Channel) schedule(ctx context.Context, peer domain.PeerID, id domain.MessageID) error {
	job := func(ctx context.Context) {
		if err := c.tracker.Attempt(ctx, id); err != nil {
			c.log.Info("message not delivered", zap.String("id", id.String()), zap.String("peer", peer.Short()), zap.Error(err))
		}
	}
	// The session can be replaced between lookup and enqueue after a disconnect.
	for range 2 {
		s, err := c.reg.Established(ctx, peer)
		if err != nil {
			return err
		}
		if s.Enqueue(job) {
			return nil
		}
	}
	return domain.ErrNotEstablished
}

// Retry re-sends a failed message under the same id.
func (c *Channel) Retry(ctx context.Context, peer domain.PeerID, id domain.MessageID) error {
	msg, ok, err := c.messages.LoadMessage(ctx, id)
	if err != nil {
		return err
	}
	if !ok || msg.Peer != peer {
		return delivery.ErrUnknownMessage
	}
	if _, err := c.reg.Established(ctx, peer); err != nil {
		return err
	}
	if err := c.tracker.Reset(ctx, id); err != nil {
		return err
	}
	if err := c.schedule(ctx, peer, id); err != nil {
		return c.unschedulable(ctx, id, err)
	}
	return nil
}

// SetTyping tells peer whether the user is typing. Errors from the transport
// are logged, never returned; typing=true is throttled per peer and skipped
// when the contact's rules turn the indicator off.
func (c *Channel) SetTyping(ctx context.Context, peer domain.PeerID, typing bool) error {
	s, err := c.reg.Established(ctx, peer)
	if err != nil {
		return err
	}
	contact := s.Contact()
	if !contact.Rules.TypingIndicator {
		return nil
	}
	if typing && !c.typingLimiter(peer).Allow() {
		return nil
	}

	ct, err := c.reg.Seal(contact.EncryptionKey(), frame.TagTyping, envelope.Typing{Typing: typing})
	if err != nil {
		return err
	}
	s.Enqueue(func(ctx context.Context) {
		if err := c.reg.Transmit(ctx, s, frame.TagTyping, ct); err != nil {
			c.log.Debug("typing not sent", zap.String("peer", peer.Short()), zap.Error(err))
		}
	})
	return nil
}

func (c *Channel) typingLimiter(peer domain.PeerID) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.typing[peer]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.cfg.TypingInterval), 1)
		c.typing[peer] = l
	}
	return l
}

// History returns peer's messages in insertion order.
func (c *Channel) History(ctx context.Context, peer domain.PeerID) ([]domain.Message, error) {
	return c.messages.ListMessages(ctx, peer)
}

// Remove deletes one message from local history. Nothing is sent to the peer.
func (c *Channel) Remove(ctx context.Context, peer domain.PeerID, id domain.MessageID) error {
	msg, ok, err := c.messages.LoadMessage(ctx, id)
	if err != nil {
		return err
	}
	if !ok || msg.Peer != peer {
		return delivery.ErrUnknownMessage
	}
	if err := c.messages.DeleteMessage(ctx, peer, id); err != nil {
		return err
	}
	c.tracker.Forget(id)
	if f := msg.Payload.File; f != nil {
		if err := c.blobs.DeleteBlob(ctx, f.Transfer); err != nil {
			c.log.Warn("delete file", zap.String("transfer", f.Transfer.String()), zap.Error(err))
		}
	}
	c.publish(domain.EventMessageRemoved, msg)
	return nil
}

// RemoveHistory deletes every message exchanged with peer.
func (c *Channel) RemoveHistory(ctx context.Context, peer domain.PeerID) error {
	hist, err := c.messages.ListMessages(ctx, peer)
	if err != nil {
		return err
	}
	for _, msg := range hist {
		c.tracker.Forget(msg.ID)
		if f := msg.Payload.File; f != nil {
			_ = c.blobs.DeleteBlob(ctx, f.Transfer)
		}
	}
	return c.messages.DeleteHistory(ctx, peer)
}

// Prune applies each contact's auto-delete rule and drops stale partial
// transfers. It returns the number of messages removed.
func (c *Channel) Prune(ctx context.Context, now time.Time) (int, error) {
	c.dropStaleTransfers(now)

	contacts, err := c.reg.Contacts().ListContacts(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, contact := range contacts {
		keep := contact.Rules.AutoDeleteAfter
		if keep <= 0 {
			continue
		}
		hist, err := c.messages.ListMessages(ctx, contact.ID())
		if err != nil {
			return n, err
		}
		for _, msg := range hist {
			if msg.Status == domain.StatusInProgress || now.Sub(msg.CreatedAt) < keep {
				continue
			}
			if err := c.Remove(ctx, msg.Peer, msg.ID); err != nil {
				return n, fmt.Errorf("prune %s: %w", msg.ID, err)
			}
			n++
		}
	}
	return n, nil
}

// Run prunes every interval until ctx ends.
func (c *Channel) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := c.Prune(ctx, c.now()); err != nil {
				c.log.Warn("prune", zap.Error(err))
			} else if n > 0 {
				c.log.Info("messages auto-deleted", zap.Int("count", n))
			}
		}
	}
}

// Recover fails outbound messages left in_progress by a previous run so
// they can be retried.
func (c *Channel) Recover(ctx context.Context) error {
	contacts, err := c.reg.Contacts().ListContacts(ctx)
	if err != nil {
		return err
	}
	for _, contact := range contacts {
		hist, err := c.messages.ListMessages(ctx, contact.ID())
		if err != nil {
			return err
		}
		if err := c.tracker.FailInterrupted(ctx, hist); err != nil {
			return err
		}
	}
	return nil
}

// sealText seals msg once and returns a SendFunc that transmits the same
// ciphertext on every attempt.
func (c *Channel) sealText(contact domain.Contact, msg domain.Message) (delivery.SendFunc, error) {
	ct, err := c.reg.Seal(contact.EncryptionKey(), frame.TagText, envelope.Text{
		ID:      msg.ID,
		Kind:    msg.Payload.Kind,
		Text:    msg.Payload.Text,
		ReplyTo: msg.Payload.ReplyTo,
	})
	if err != nil {
		return nil, err
	}
	return c.transmit(msg.Peer, frame.TagText, ct), nil
}

// transmit returns a SendFunc writing payloads in order over the peer's
// current session.
func (c *Channel) transmit(peer domain.PeerID, tag frame.Tag, payloads ...[]byte) delivery.SendFunc {
	return func(ctx context.Context) error {
		s, err := c.reg.Established(ctx, peer)
		if err != nil {
			return err
		}
		for _, p := range payloads {
			if err := c.reg.Transmit(ctx, s, tag, p); err != nil {
				return err
			}
		}
		return nil
	}
}

// resend rebuilds the SendFunc of a stored message.
func (c *Channel) resend(ctx context.Context, msg domain.Message) (delivery.SendFunc, error) {
	s, err := c.reg.Established(ctx, msg.Peer)
	if err != nil {
		return nil, err
	}
	if msg.Payload.Kind == domain.PayloadFile {
		return c.sealFile(ctx, s.Contact(), msg)
	}
	return c.sealText(s.Contact(), msg)
}

func (c *Channel) publish(kind domain.EventKind, msg domain.Message) {
	if c.events == nil {
		return
	}
	c.events.Publish(domain.Event{Kind: kind, Peer: msg.Peer, Message: &msg, At: c.now()})
}
