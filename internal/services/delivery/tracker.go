package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ochat/internal/domain"
	"ochat/internal/util/broadcast"
)

var (
	// ErrUnknownMessage is returned for an id the tracker has never seen.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotFailed is returned by Retry for a message that has not failed.
	ErrNotFailed = errors.New("message has not failed")
	// ErrNotRetryable is returned by Retry when the payload is no longer held,
	// for example after a restart.
	ErrNotRetryable = errors.New("message payload is no longer available")

	errInterrupted = errors.New("interrupted")
)

// SendFunc performs one transport attempt for a tracked message. It must send
// the same payload on every call.
type SendFunc func(ctx context.Context) error

// Resender rebuilds the SendFunc of a stored message whose original one is
// gone, for example after a restart.
type Resender func(ctx context.Context, msg domain.Message) (SendFunc, error)

// Config bounds attempts and automatic retries.
type Config struct {
	// SendTimeout bounds a single attempt.
	SendTimeout time.Duration
	// AutoRetries is the number of extra attempts after a failure.
	AutoRetries int
	// Backoff is the first retry delay; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// MaxConsecutiveFailures stops automatic retries to a peer whose last
	// attempts all failed.
	MaxConsecutiveFailures int
}

const (
	DefaultSendTimeout            = 30 * time.Second
	DefaultAutoRetries            = 2
	DefaultBackoff                = 2 * time.Second
	DefaultMaxBackoff             = 30 * time.Second
	DefaultMaxConsecutiveFailures = 3
)

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.AutoRetries < 0 {
		c.AutoRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.Backoff)
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return c
}

// Tracker owns the delivery status of outbound messages.
type Tracker struct {
	cfg    Config
	store  domain.MessageStore
	events *broadcast.Hub[domain.Event]
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	resend   Resender
	sends    map[domain.MessageID]SendFunc
	failures map[domain.PeerID]int
}

// New returns a Tracker persisting to store and publishing on events.
func New(cfg Config, store domain.MessageStore, events *broadcast.Hub[domain.Event], log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		cfg:      cfg.withDefaults(),
		store:    store,
		events:   events,
		log:      log.Named("delivery"),
		now:      time.Now,
		sends:    make(map[domain.MessageID]SendFunc),
		failures: make(map[domain.PeerID]int),
	}
}

// SetResender installs the fallback used when a message's SendFunc is gone.
func (t *Tracker) SetResender(r Resender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resend = r
}

// Track appends msg to history as in_progress and keeps send for later attempts.
func (t *Tracker) Track(ctx context.Context, msg domain.Message, send SendFunc) (domain.Message, error) {
	now := t.now()
	msg.Direction = domain.DirectionOwn
	msg.Status = domain.StatusInProgress
	msg.Attempts = 0
	msg.LastError = ""
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	if err := t.store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	t.mu.Lock()
	t.sends[msg.ID] = send
	t.mu.Unlock()

	t.publish(msg)
	return msg, nil
}

// Attempt sends a tracked message, retrying automatically with capped
// exponential backoff. It returns the last send error when the message ends
// up failed.
//
// Automatic retries stop early once the peer has MaxConsecutiveFailures
// failed attempts in a row; the first attempt always runs.
func (t *Tracker) Attempt(ctx context.Context, id domain.MessageID) error {
	msg, err := t.message(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status != domain.StatusInProgress {
		return nil
	}
	send, err := t.sender(ctx, msg)
	if err != nil {
		if serr := t.settle(ctx, msg, domain.StatusFailed, err); serr != nil {
			return serr
		}
		return err
	}

	backoff := t.cfg.Backoff
	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
		sendErr := send(actx)
		cancel()
		msg.Attempts++

		if sendErr == nil {
			t.mu.Lock()
			delete(t.failures, msg.Peer)
			delete(t.sends, msg.ID)
			t.mu.Unlock()
			return t.settle(ctx, msg, domain.StatusDelivered, nil)
		}

		t.mu.Lock()
		t.failures[msg.Peer]++
		streak := t.failures[msg.Peer]
		t.mu.Unlock()

		t.log.Debug("send attempt failed",
			zap.String("id", msg.ID.String()),
			zap.String("peer", msg.Peer.Short()),
			zap.Int("attempt", msg.Attempts),
			zap.Error(sendErr),
		)
		if attempt >= t.cfg.AutoRetries || streak >= t.cfg.MaxConsecutiveFailures {
			if err := t.settle(ctx, msg, domain.StatusFailed, sendErr); err != nil {
				return err
			}
			return sendErr
		}

		select {
		case <-ctx.Done():
			if err := t.settle(context.WithoutCancel(ctx), msg, domain.StatusFailed, ctx.Err()); err != nil {
				return err
			}
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, t.cfg.MaxBackoff)
	}
}

// Reset moves a failed message back to in_progress without sending it.
// Callers follow with Attempt, typically on the peer's session queue.
func (t *Tracker) Reset(ctx context.Context, id domain.MessageID) error {
	msg, err := t.message(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status != domain.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, msg.Status)
	}
	if _, err := t.sender(ctx, msg); err != nil {
		return err
	}
	return t.settle(ctx, msg, domain.StatusInProgress, nil)
}

// Fail settles an in_progress message as failed without an attempt, for
// callers that could not queue the attempt. The payload stays held for Retry.
func (t *Tracker) Fail(ctx context.Context, id domain.MessageID, cause error) error {
	msg, err := t.message(ctx, id)
	if err != nil {
		return err
	}
	if msg.Status != domain.StatusInProgress {
		return nil
	}
	return t.settle(ctx, msg, domain.StatusFailed, cause)
}

// Retry re-sends a failed message under the same id. History length is
// unchanged; only the entry's status and attempt count move.
func (t *Tracker) Retry(ctx context.Context, id domain.MessageID) error {
	if err := t.Reset(ctx, id); err != nil {
		return err
	}
	return t.Attempt(ctx, id)
}

// Status returns the current delivery status of id.
func (t *Tracker) Status(ctx context.Context, id domain.MessageID) (domain.DeliveryStatus, error) {
	msg, ok, err := t.store.LoadMessage(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnknownMessage
	}
	return msg.Status, nil
}

// FailInterrupted marks own in_progress messages in history as failed. Run
// it at startup: attempts that were running when the process exited will
// never report back.
func (t *Tracker) FailInterrupted(ctx context.Context, history []domain.Message) error {
	for _, msg := range history {
		if msg.Direction != domain.DirectionOwn || msg.Status != domain.StatusInProgress {
			continue
		}
		t.mu.Lock()
		_, held := t.sends[msg.ID]
		t.mu.Unlock()
		if held {
			continue
		}
		if err := t.settle(ctx, msg, domain.StatusFailed, errInterrupted); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops the held payload of id, for example when it is removed from history.
func (t *Tracker) Forget(id domain.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sends, id)
}

func (t *Tracker) message(ctx context.Context, id domain.MessageID) (domain.Message, error) {
	msg, ok, err := t.store.LoadMessage(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok || msg.Direction != domain.DirectionOwn {
		return domain.Message{}, ErrUnknownMessage
	}
	return msg, nil
}

// sender returns the held SendFunc for msg, rebuilding it through the
// Resender when needed.
func (t *Tracker) sender(ctx context.Context, msg domain.Message) (SendFunc, error) {
	t.mu.Lock()
	send, held := t.sends[msg.ID]
	resend := t.resend
	t.mu.Unlock()
	if held {
		return send, nil
	}
	if resend == nil {
		return nil, ErrNotRetryable
	}
	send, err := resend(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRetryable, err)
	}
	t.mu.Lock()
	t.sends[msg.ID] = send
	t.mu.Unlock()
	return send, nil
}

func (t *Tracker) settle(ctx context.Context, msg domain.Message, status domain.DeliveryStatus, cause error) error {
	msg.Status = status
	msg.LastError = ""
	if cause != nil {
		msg.LastError = cause.Error()
	}
	msg.UpdatedAt = t.now()
	if err := t.store.UpdateMessage(ctx, msg); err != nil {
		return err
	}
	t.publish(msg)
	return nil
}

func (t *Tracker) publish(msg domain.Message) {
	if t.events == nil {
		return
	}
	m := msg
	t.events.Publish(domain.Event{
		Kind:    domain.EventMessageStatus,
		Peer:    msg.Peer,
		Message: &m,
		At:      msg.UpdatedAt,
	})
}
