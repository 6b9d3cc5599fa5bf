package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/services/session"
	"ochat/internal/store"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []domain.OnionAddress
	bound map[domain.ConnID]domain.OnionAddress
	err   error
}

func (f *fakeTransport) Send(_ context.Context, to domain.OnionAddress, _ byte, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeTransport) Bind(conn domain.ConnID, onion domain.OnionAddress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound == nil {
		f.bound = make(map[domain.ConnID]domain.OnionAddress)
	}
	f.bound[conn] = onion
}

func (f *fakeTransport) Probe(context.Context, domain.OnionAddress) bool { return f.err == nil }

func (f *fakeTransport) OnionAddress() (domain.OnionAddress, error) { return "", nil }

func identity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func contactOf(id domain.Identity, status domain.ContactStatus) domain.Contact {
	return domain.Contact{
		PublicKey:  id.XPub,
		SigningKey: id.EdPub,
		Onion:      id.Onion,
		Status:     status,
		Rules:      domain.DefaultChatRules(),
	}
}

func newRegistry(t *testing.T, id domain.Identity) (*session.Registry, *fakeTransport, *store.ContactStore) {
	t.Helper()
	kv, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	contacts := store.NewContactStore(kv)
	tr := &fakeTransport{}
	r := session.New(id, contacts, tr, zaptest.NewLogger(t))
	t.Cleanup(r.Close)
	return r, tr, contacts
}

func TestCanonicalInitiator_Symmetric(t *testing.T) {
	a, b := identity(t), identity(t)
	assert.Equal(t, session.CanonicalInitiator(a.XPub, b.XPub), session.CanonicalInitiator(b.XPub, a.XPub))
}

func TestGet_IdempotentAndEstablishedForConfirmed(t *testing.T) {
	alice, bob := identity(t), identity(t)
	ra, _, _ := newRegistry(t, alice)
	rb, _, _ := newRegistry(t, bob)

	sa := ra.Get(contactOf(bob, domain.ContactConfirmed))
	assert.Same(t, sa, ra.Get(contactOf(bob, domain.ContactConfirmed)))
	assert.Equal(t, domain.StageEstablished, sa.Stage())

	sb := rb.Get(contactOf(alice, domain.ContactConfirmed))
	assert.Equal(t, sa.Info().Params.SafetyCode, sb.Info().Params.SafetyCode)
	assert.NotEqual(t, sa.Info().Initiator, sb.Info().Initiator)

	received := ra.Get(contactOf(identity(t), domain.ContactRequested))
	assert.Equal(t, domain.StageRequestReceived, received.Stage())

	sentTo := contactOf(identity(t), domain.ContactRequested)
	sentTo.RequestSent = true
	assert.Equal(t, domain.StageRequestSent, ra.Get(sentTo).Stage())

	assert.Equal(t, domain.StageNone, ra.Get(contactOf(identity(t), domain.ContactCancelled)).Stage())
}

func TestSetOnion_ChangesAdvertisedAddress(t *testing.T) {
	alice, bob := identity(t), identity(t)
	r, _, _ := newRegistry(t, alice)
	served := identity(t).Onion

	r.SetOnion(served)
	assert.Equal(t, served, r.Identity().Onion)
	assert.Equal(t, alice.XPub, r.Identity().XPub)

	ct, err := r.Seal(bob.XPub, frame.TagText, envelope.Text{ID: "m1", Kind: domain.PayloadText, Text: "hi"})
	require.NoError(t, err)
	env, err := envelope.Open(bob, frame.TagText, ct)
	require.NoError(t, err)
	assert.Equal(t, served, env.Onion)
}

func TestSession_FIFOOrder(t *testing.T) {
	alice, bob := identity(t), identity(t)
	r, _, _ := newRegistry(t, alice)
	s := r.Get(contactOf(bob, domain.ContactConfirmed))

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, s.Enqueue(func(context.Context) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, s.Do(context.Background(), func(context.Context) error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestRemove_LaterSessionWaitsForQueuedJobs(t *testing.T) {
	alice, bob := identity(t), identity(t)
	r, _, _ := newRegistry(t, alice)
	c := contactOf(bob, domain.ContactConfirmed)

	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	old := r.Get(c)
	old.Enqueue(func(context.Context) { <-release; note("old") })
	r.Remove(c.ID())
	assert.False(t, old.Enqueue(func(context.Context) {}))

	fresh := r.Get(c)
	require.NotSame(t, old, fresh)
	done := make(chan error, 1)
	go func() {
		done <- fresh.Do(context.Background(), func(context.Context) error { note("new"); return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, order)
}

func TestDispatch_RoutesVerifiedFrames(t *testing.T) {
	ctx := context.Background()
	alice, bob, mallory := identity(t), identity(t), identity(t)
	r, tr, contacts := newRegistry(t, alice)
	require.NoError(t, contacts.SaveContact(ctx, contactOf(bob, domain.ContactConfirmed)))

	got := make(chan session.Inbound, 4)
	r.Handle(frame.TagText, func(_ context.Context, in session.Inbound) error {
		got <- in
		return nil
	})

	ct, err := envelope.Seal(bob, alice.XPub, frame.TagText, envelope.Text{ID: "m1", Kind: domain.PayloadText, Text: "hi"})
	require.NoError(t, err)
	r.Dispatch(ctx, frame.Frame{Tag: frame.TagText, Payload: ct, Conn: 7})

	in := <-got
	require.NotNil(t, in.Session)
	assert.Equal(t, bob.PeerID(), in.Session.Peer())
	assert.Equal(t, domain.ConnID(7), in.Session.Info().Conn)
	assert.Equal(t, domain.SessionConnected, r.Presence(bob.PeerID()))
	tr.mu.Lock()
	assert.Equal(t, bob.Onion, tr.bound[7])
	tr.mu.Unlock()

	// Unknown sender, forged signing key and garbage are all dropped.
	ct, err = envelope.Seal(mallory, alice.XPub, frame.TagText, envelope.Text{ID: "m2", Text: "hi"})
	require.NoError(t, err)
	r.Dispatch(ctx, frame.Frame{Tag: frame.TagText, Payload: ct})

	forged := bob
	forged.EdPriv, forged.EdPub = mallory.EdPriv, mallory.EdPub
	ct, err = envelope.Seal(forged, alice.XPub, frame.TagText, envelope.Text{ID: "m3", Text: "hi"})
	require.NoError(t, err)
	r.Dispatch(ctx, frame.Frame{Tag: frame.TagText, Payload: ct})

	r.Dispatch(ctx, frame.Frame{Tag: frame.TagText, Payload: []byte("garbage")})

	select {
	case in := <-got:
		t.Fatalf("unexpected frame from %s", in.Envelope.Peer())
	default:
	}
}

func TestHandleServerState_DisconnectRemovesEstablished(t *testing.T) {
	ctx := context.Background()
	alice, bob := identity(t), identity(t)
	r, _, contacts := newRegistry(t, alice)
	c := contactOf(bob, domain.ContactConfirmed)
	require.NoError(t, contacts.SaveContact(ctx, c))

	states, cancel := r.States()
	defer cancel()

	s := r.Get(c)
	r.Touch(s, 3)
	r.HandleServerState(domain.ServerState{Kind: domain.ServerPeerDisconnected, Conn: 3})

	_, live := r.Lookup(c.ID())
	assert.False(t, live)
	_, kept, err := contacts.LoadContact(ctx, c.ID())
	require.NoError(t, err)
	assert.True(t, kept)

	assert.Equal(t, domain.SessionConnected, (<-states).State)
	assert.Equal(t, domain.SessionReconnecting, (<-states).State)

	again, err := r.Established(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StageEstablished, again.Stage())
}

func TestTransmit_TracksPresence(t *testing.T) {
	alice, bob := identity(t), identity(t)
	r, tr, _ := newRegistry(t, alice)
	s := r.Get(contactOf(bob, domain.ContactConfirmed))

	states, cancel := r.States()
	defer cancel()

	require.NoError(t, r.Transmit(context.Background(), s, frame.TagText, []byte("x")))
	assert.Equal(t, domain.SessionConnecting, (<-states).State)
	assert.Equal(t, domain.SessionConnected, (<-states).State)

	tr.err = &domain.TransportError{Op: "send", Err: domain.ErrPeerUnreachable}
	err := r.Transmit(context.Background(), s, frame.TagText, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrPeerUnreachable)
	assert.Equal(t, domain.SessionDisconnected, (<-states).State)
}
