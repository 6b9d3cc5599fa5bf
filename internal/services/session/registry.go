package session

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/util/broadcast"
)

// Inbound is a verified frame handed to a Handler.
type Inbound struct {
	Frame    frame.Frame
	Envelope *envelope.Envelope
	// Session is the sender's established session; nil for handshake tags.
	Session *Session
}

// Handler processes one inbound frame. A returned error drops the frame and
// is only logged.
type Handler func(ctx context.Context, in Inbound) error

// Registry owns every live Session and routes inbound frames to handlers.
type Registry struct {
	idMu sync.RWMutex
	id   domain.Identity

	contacts  domain.ContactStore
	transport domain.Transport
	log       *zap.Logger
	states    *broadcast.Hub[domain.SessionEvent]
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu      sync.RWMutex
	handlers map[frame.Tag]Handler

	mu       sync.Mutex
	sessions map[domain.PeerID]*Session
	tails    map[domain.PeerID]<-chan struct{}
	presence map[domain.PeerID]domain.SessionState
}

// New returns an empty registry for the local identity id.
func New(id domain.Identity, contacts domain.ContactStore, transport domain.Transport, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		id:        id,
		contacts:  contacts,
		transport: transport,
		log:       log.Named("session"),
		states:    broadcast.New[domain.SessionEvent](),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[frame.Tag]Handler),
		sessions:  make(map[domain.PeerID]*Session),
		tails:     make(map[domain.PeerID]<-chan struct{}),
		presence:  make(map[domain.PeerID]domain.SessionState),
	}
}

// CanonicalInitiator returns the key that initiates when both peers start a
// handshake at once: the lexicographically smaller one.
func CanonicalInitiator(a, b domain.X25519Public) domain.X25519Public {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a
	}
	return b
}

// Identity returns the local identity.
func (r *Registry) Identity() domain.Identity {
	r.idMu.RLock()
	defer r.idMu.RUnlock()
	return r.id
}

// SetOnion replaces the address advertised in outbound envelopes, for a
// transport that serves an onion not derived from the identity key.
func (r *Registry) SetOnion(onion domain.OnionAddress) {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	r.id.Onion = onion.Normalize()
}

// Contacts returns the contact store sessions are backed by.
func (r *Registry) Contacts() domain.ContactStore { return r.contacts }

// Handle registers h for tag, replacing any previous handler.
func (r *Registry) Handle(tag frame.Tag, h Handler) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	r.handlers[tag] = h
}

// States subscribes to per-contact connectivity changes.
func (r *Registry) States() (<-chan domain.SessionEvent, func()) {
	return r.states.Subscribe(0)
}

// Get returns the live session for c, creating it if needed. A new session
// starts established for a confirmed contact and at the open request's stage
// for a requested one.
func (r *Registry) Get(c domain.Contact) *Session {
	peer := c.ID()
	self := r.Identity().XPub

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[peer]; ok {
		return s
	}

	st := State{
		Contact:      c,
		Stage:        domain.StageNone,
		Initiator:    CanonicalInitiator(self, c.PublicKey) == self,
		LastActivity: r.now(),
	}
	switch {
	case c.Status == domain.ContactConfirmed:
		st.Stage = domain.StageEstablished
		st.Params = r.Params(c)
	case c.Status == domain.ContactRequested && c.RequestSent:
		st.Stage = domain.StageRequestSent
		st.RequestedAt = c.RequestedAt
	case c.Status == domain.ContactRequested:
		st.Stage = domain.StageRequestReceived
		st.RequestedAt = c.RequestedAt
	}
	s := newSession(st)
	r.sessions[peer] = s

	after := r.tails[peer]
	delete(r.tails, peer)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run(r.ctx, after)
	}()
	return s
}

// Lookup returns the live session for peer, if any.
func (r *Registry) Lookup(peer domain.PeerID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peer]
	return s, ok
}

// Sessions returns every live session.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Remove ends the live session for peer. Queued jobs still run, before any
// job of a later session for the same peer. The contact is kept.
func (r *Registry) Remove(peer domain.PeerID) {
	r.mu.Lock()
	s, ok := r.sessions[peer]
	if ok {
		delete(r.sessions, peer)
		r.tails[peer] = s.done
	}
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Established returns an established session for peer, rebuilding it from a
// confirmed contact when none is live.
func (r *Registry) Established(ctx context.Context, peer domain.PeerID) (*Session, error) {
	if s, ok := r.Lookup(peer); ok {
		if s.Stage() != domain.StageEstablished {
			return nil, domain.ErrNotEstablished
		}
		return s, nil
	}

	c, ok, err := r.contacts.LoadContact(ctx, peer)
	if err != nil {
		return nil, err
	}
	switch {
	case !ok:
		return nil, domain.ErrUnknownContact
	case c.Status == domain.ContactBlocked:
		return nil, domain.ErrContactBlocked
	case c.Status != domain.ContactConfirmed:
		return nil, domain.ErrNotEstablished
	}
	s := r.Get(c)
	if s.Stage() != domain.StageEstablished {
		return nil, domain.ErrNotEstablished
	}
	return s, nil
}

// Params derives the session parameters shared with c.
func (r *Registry) Params(c domain.Contact) domain.SessionParams {
	p := domain.SessionParams{PeerEncryptionKey: c.EncryptionKey()}
	id := r.Identity()
	code, err := crypto.SafetyCode(id.XPriv, id.XPub, c.PublicKey)
	if err != nil {
		r.log.Warn("safety code", zap.String("peer", c.ID().Short()), zap.Error(err))
		return p
	}
	p.SafetyCode = code
	return p
}

// SaveContact persists c and refreshes the live session's copy.
func (r *Registry) SaveContact(ctx context.Context, c domain.Contact) error {
	c.UpdatedAt = r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	if err := r.contacts.SaveContact(ctx, c); err != nil {
		return err
	}
	if s, ok := r.Lookup(c.ID()); ok {
		s.Update(func(st *State) { st.Contact = c })
	}
	return nil
}

// Seal encrypts body for recipient as a frame payload of the given tag.
func (r *Registry) Seal(recipient domain.X25519Public, tag frame.Tag, body any) ([]byte, error) {
	return envelope.Seal(r.Identity(), recipient, tag, body)
}

// Transmit sends a sealed payload to the session's contact and tracks the
// contact's connectivity from the outcome.
func (r *Registry) Transmit(ctx context.Context, s *Session, tag frame.Tag, payload []byte) error {
	onion := s.Snapshot().Contact.Onion
	if r.Presence(s.peer) != domain.SessionConnected {
		r.setPresence(s.peer, domain.SessionConnecting)
	}
	if err := r.transport.Send(ctx, onion, byte(tag), payload); err != nil {
		r.setPresence(s.peer, domain.SessionDisconnected)
		return err
	}
	s.Update(func(st *State) { st.LastActivity = r.now() })
	r.setPresence(s.peer, domain.SessionConnected)
	return nil
}

// Touch records inbound activity on conn and binds the socket to the
// contact so replies reuse it.
func (r *Registry) Touch(s *Session, conn domain.ConnID) {
	var onion domain.OnionAddress
	s.Update(func(st *State) {
		if conn != 0 {
			st.Conn = conn
		}
		st.LastActivity = r.now()
		onion = st.Contact.Onion
	})
	if conn != 0 && onion != "" {
		r.transport.Bind(conn, onion)
	}
	r.setPresence(s.peer, domain.SessionConnected)
}

// Dispatch opens and routes one inbound frame. It never returns an error:
// frames that fail to decrypt, verify or match a session are dropped.
func (r *Registry) Dispatch(ctx context.Context, f frame.Frame) {
	r.hmu.RLock()
	h := r.handlers[f.Tag]
	r.hmu.RUnlock()
	if h == nil {
		r.log.Debug("no handler", zap.Stringer("tag", f.Tag))
		return
	}

	env, err := envelope.Open(r.Identity(), f.Tag, f.Payload)
	if err != nil {
		r.log.Debug("dropping frame", zap.Stringer("tag", f.Tag), zap.Uint64("conn", uint64(f.Conn)), zap.Error(err))
		return
	}

	in := Inbound{Frame: f, Envelope: env}
	if !f.Tag.Handshake() {
		s, err := r.Established(ctx, env.Peer())
		if err != nil {
			r.log.Debug("dropping frame", zap.Stringer("tag", f.Tag), zap.String("peer", env.Peer().Short()), zap.Error(err))
			return
		}
		if s.Contact().SigningKey != env.SigningKey {
			r.log.Warn("dropping frame", zap.String("peer", env.Peer().Short()), zap.Error(domain.ErrKeyMismatch))
			return
		}
		r.Touch(s, f.Conn)
		in.Session = s
	}

	if err := h(ctx, in); err != nil {
		r.log.Debug("frame rejected", zap.Stringer("tag", f.Tag), zap.String("peer", env.Peer().Short()), zap.Error(err))
	}
}

// HandleServerState reacts to transport notifications. A dropped socket
// removes established sessions on it; their contacts show as reconnecting
// until the next send or probe. Pending handshakes stay live.
func (r *Registry) HandleServerState(st domain.ServerState) {
	if st.Kind != domain.ServerPeerDisconnected {
		return
	}
	for _, s := range r.Sessions() {
		snap := s.Snapshot()
		if (st.Conn == 0 || snap.Conn != st.Conn) && (st.Onion == "" || snap.Contact.Onion != st.Onion) {
			continue
		}
		s.Update(func(ss *State) { ss.Conn = 0 })
		if snap.Stage == domain.StageEstablished {
			r.Remove(s.peer)
			r.setPresence(s.peer, domain.SessionReconnecting)
			continue
		}
		r.setPresence(s.peer, domain.SessionDisconnected)
	}
}

// Watch probes every confirmed contact each interval and publishes its
// connectivity, until ctx ends.
func (r *Registry) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		r.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (r *Registry) probe(ctx context.Context) {
	contacts, err := r.contacts.ListContacts(ctx)
	if err != nil {
		r.log.Warn("list contacts", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for _, c := range contacts {
		if c.Status != domain.ContactConfirmed || c.Onion == "" {
			continue
		}
		wg.Add(1)
		go func(c domain.Contact) {
			defer wg.Done()
			if r.transport.Probe(ctx, c.Onion) {
				r.setPresence(c.ID(), domain.SessionConnected)
			} else if ctx.Err() == nil {
				r.setPresence(c.ID(), domain.SessionDisconnected)
			}
		}(c)
	}
	wg.Wait()
}

// Presence returns the last published connectivity of peer.
func (r *Registry) Presence(peer domain.PeerID) domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.presence[peer]; ok {
		return st
	}
	return domain.SessionDisconnected
}

func (r *Registry) setPresence(peer domain.PeerID, state domain.SessionState) {
	r.mu.Lock()
	prev, seen := r.presence[peer]
	if seen && prev == state {
		r.mu.Unlock()
		return
	}
	r.presence[peer] = state
	r.mu.Unlock()

	r.states.Publish(domain.SessionEvent{Peer: peer, State: state, At: r.now()})
}

// Close stops every session worker. Jobs that have not started are abandoned.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	for peer, s := range r.sessions {
		delete(r.sessions, peer)
		s.close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
