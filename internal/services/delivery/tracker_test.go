package delivery_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ochat/internal/domain"
	"ochat/internal/services/delivery"
	"ochat/internal/store"
	"ochat/internal/util/broadcast"
)

const peer domain.PeerID = "peer-1"

var errDown = errors.New("link down")

func newStore(t *testing.T) *store.MessageStore {
	t.Helper()
	kv, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return store.NewMessageStore(kv)
}

func newTracker(t *testing.T, ms domain.MessageStore, cfg delivery.Config) (*delivery.Tracker, <-chan domain.Event) {
	t.Helper()
	hub := broadcast.New[domain.Event]()
	events, cancel := hub.Subscribe(256)
	t.Cleanup(cancel)
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	return delivery.New(cfg, ms, hub, zaptest.NewLogger(t)), events
}

func text(id string) domain.Message {
	return domain.Message{
		ID:      domain.MessageID(id),
		Peer:    peer,
		Payload: domain.Payload{Kind: domain.PayloadText, Text: "hello"},
	}
}

// flaky fails until ok is set.
type flaky struct {
	ok    atomic.Bool
	calls atomic.Int32
}

func (f *flaky) send(context.Context) error {
	f.calls.Add(1)
	if f.ok.Load() {
		return nil
	}
	return errDown
}

func statuses(events <-chan domain.Event) []domain.DeliveryStatus {
	var out []domain.DeliveryStatus
	for {
		select {
		case ev := <-events:
			if ev.Kind == domain.EventMessageStatus {
				out = append(out, ev.Message.Status)
			}
		default:
			return out
		}
	}
}

func TestAttempt_Delivered(t *testing.T) {
	ctx := context.Background()
	ms := newStore(t)
	tr, events := newTracker(t, ms, delivery.Config{})

	f := &flaky{}
	f.ok.Store(true)
	_, err := tr.Track(ctx, text("m1"), f.send)
	require.NoError(t, err)
	require.NoError(t, tr.Attempt(ctx, "m1"))

	st, err := tr.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, st)
	assert.Equal(t, []domain.DeliveryStatus{domain.StatusInProgress, domain.StatusDelivered}, statuses(events))

	msg, ok, err := ms.LoadMessage(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, domain.DirectionOwn, msg.Direction)
}

func TestAttempt_AutoRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	tr, events := newTracker(t, newStore(t), delivery.Config{AutoRetries: 2, MaxConsecutiveFailures: 10})

	f := &flaky{}
	_, err := tr.Track(ctx, text("m1"), f.send)
	require.NoError(t, err)

	err = tr.Attempt(ctx, "m1")
	assert.ErrorIs(t, err, errDown)
	assert.EqualValues(t, 3, f.calls.Load())

	st, err := tr.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st)
	assert.Equal(t, []domain.DeliveryStatus{domain.StatusInProgress, domain.StatusFailed}, statuses(events))
}

func TestRetry_KeepsHistoryLength(t *testing.T) {
	ctx := context.Background()
	ms := newStore(t)
	tr, _ := newTracker(t, ms, delivery.Config{AutoRetries: 0})

	f := &flaky{}
	_, err := tr.Track(ctx, text("m1"), f.send)
	require.NoError(t, err)
	require.Error(t, tr.Attempt(ctx, "m1"))

	before, err := ms.ListMessages(ctx, peer)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, domain.StatusFailed, before[0].Status)
	assert.Equal(t, errDown.Error(), before[0].LastError)

	f.ok.Store(true)
	require.NoError(t, tr.Retry(ctx, "m1"))

	after, err := ms.ListMessages(ctx, peer)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, domain.MessageID("m1"), after[0].ID)
	assert.Equal(t, domain.StatusDelivered, after[0].Status)
	assert.Equal(t, 2, after[0].Attempts)
	assert.Empty(t, after[0].LastError)

	assert.ErrorIs(t, tr.Retry(ctx, "m1"), delivery.ErrNotFailed)
	assert.ErrorIs(t, tr.Retry(ctx, "nope"), delivery.ErrUnknownMessage)
}

func TestAttempt_ConsecutiveFailuresStopAutoRetry(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, newStore(t), delivery.Config{AutoRetries: 5, MaxConsecutiveFailures: 2})

	first := &flaky{}
	_, err := tr.Track(ctx, text("m1"), first.send)
	require.NoError(t, err)
	require.Error(t, tr.Attempt(ctx, "m1"))
	assert.EqualValues(t, 2, first.calls.Load())

	second := &flaky{}
	_, err = tr.Track(ctx, text("m2"), second.send)
	require.NoError(t, err)
	require.Error(t, tr.Attempt(ctx, "m2"))
	assert.EqualValues(t, 1, second.calls.Load())

	// A success clears the streak.
	second.ok.Store(true)
	require.NoError(t, tr.Retry(ctx, "m2"))
	third := &flaky{}
	_, err = tr.Track(ctx, text("m3"), third.send)
	require.NoError(t, err)
	require.Error(t, tr.Attempt(ctx, "m3"))
	assert.EqualValues(t, 2, third.calls.Load())
}

func TestRetry_AfterRestartUsesResender(t *testing.T) {
	ctx := context.Background()
	ms := newStore(t)

	old, _ := newTracker(t, ms, delivery.Config{})
	_, err := old.Track(ctx, text("m1"), (&flaky{}).send)
	require.NoError(t, err)

	tr, _ := newTracker(t, ms, delivery.Config{})
	hist, err := ms.ListMessages(ctx, peer)
	require.NoError(t, err)
	require.NoError(t, tr.FailInterrupted(ctx, hist))

	st, err := tr.Status(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, st)
	assert.ErrorIs(t, tr.Retry(ctx, "m1"), delivery.ErrNotRetryable)

	var resent domain.MessageID
	tr.SetResender(func(_ context.Context, msg domain.Message) (delivery.SendFunc, error) {
		resent = msg.ID
		return func(context.Context) error { return nil }, nil
	})
	require.NoError(t, tr.Retry(ctx, "m1"))
	assert.Equal(t, domain.MessageID("m1"), resent)

	st, err = tr.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, st)
}

func TestFail_SettlesUnqueuedMessageForRetry(t *testing.T) {
	ctx := context.Background()
	ms := newStore(t)
	tr, _ := newTracker(t, ms, delivery.Config{AutoRetries: 0, MaxConsecutiveFailures: 5})

	f := &flaky{}
	f.ok.Store(true)
	_, err := tr.Track(ctx, text("m1"), f.send)
	require.NoError(t, err)

	require.NoError(t, tr.Fail(ctx, "m1", domain.ErrNotEstablished))
	st, err := tr.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st)
	msg, _, err := ms.LoadMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.ErrNotEstablished.Error(), msg.LastError)
	assert.Zero(t, msg.Attempts)
	assert.Zero(t, f.calls.Load())

	require.NoError(t, tr.Retry(ctx, "m1"))
	st, err = tr.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, st)

	require.NoError(t, tr.Fail(ctx, "m1", errDown))
	st, err = tr.Status(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, st)
	assert.ErrorIs(t, tr.Fail(ctx, "missing", errDown), delivery.ErrUnknownMessage)
}
