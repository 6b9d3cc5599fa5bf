package handshake

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/services/session"
	"ochat/internal/util/broadcast"
)

var (
	// ErrSelf is returned when asked to request a chat with our own key.
	ErrSelf = errors.New("cannot request a chat with yourself")
	// ErrAlreadyContact is returned by Request for a confirmed contact.
	ErrAlreadyContact = errors.New("already a confirmed contact")
	// ErrInvalidOnion is returned by Request for a malformed onion address.
	ErrInvalidOnion = errors.New("invalid onion address")
	// ErrNonceMismatch rejects a confirm that does not echo our request's nonce.
	ErrNonceMismatch = errors.New("confirm does not answer our request")
)

// Config tunes the protocol.
type Config struct {
	// Timeout is how long a request may stay unconfirmed.
	Timeout time.Duration
	// SweepInterval is how often Run expires stale requests.
	SweepInterval time.Duration
	// DisplayName is offered to peers in requests and confirms.
	DisplayName string
}

const (
	DefaultTimeout       = 72 * time.Hour
	DefaultSweepInterval = time.Minute
)

// Protocol drives handshakes for every contact of one identity.
type Protocol struct {
	cfg    Config
	reg    *session.Registry
	events *broadcast.Hub[domain.Event]
	log    *zap.Logger
	now    func() time.Time

	// locks serialises handshake steps per peer.
	locks sync.Map
}

// New returns a Protocol and registers its frame handlers on reg.
func New(cfg Config, reg *session.Registry, events *broadcast.Hub[domain.Event], log *zap.Logger) *Protocol {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Protocol{
		cfg:    cfg,
		reg:    reg,
		events: events,
		log:    log.Named("handshake"),
		now:    time.Now,
	}
	reg.Handle(frame.TagHandshakeStart, p.handleStart)
	reg.Handle(frame.TagHandshakeConfirm, p.handleConfirm)
	return p
}

// Request asks the owner of pub, reachable at onion, to chat. name is the
// local label for the contact and may be empty.
func (p *Protocol) Request(ctx context.Context, pub domain.X25519Public, onion domain.OnionAddress, name string) (domain.Contact, error) {
	id := p.reg.Identity()
	if pub == id.XPub {
		return domain.Contact{}, ErrSelf
	}
	onion = onion.Normalize()
	if !crypto.ValidOnion(onion) {
		return domain.Contact{}, fmt.Errorf("%w: %q", ErrInvalidOnion, onion)
	}
	peer := pub.PeerID()
	defer p.lock(peer)()

	c, found, err := p.reg.Contacts().LoadContact(ctx, peer)
	if err != nil {
		return domain.Contact{}, err
	}
	if found {
		switch {
		case c.Status == domain.ContactBlocked:
			return c, domain.ErrContactBlocked
		case c.Status == domain.ContactConfirmed:
			return c, ErrAlreadyContact
		case c.Status == domain.ContactRequested && !c.RequestSent:
			// They asked first; requesting back is an answer.
			if err := p.confirmPeer(ctx, peer); err != nil {
				return c, err
			}
			c, _, err = p.reg.Contacts().LoadContact(ctx, peer)
			return c, err
		}
	} else {
		c = domain.Contact{PublicKey: pub, Rules: domain.DefaultChatRules()}
	}

	if c.Status != domain.ContactRequested || !c.RequestSent || len(c.RequestNonce) != envelope.NonceSize {
		nonce, err := crypto.RandomBytes(envelope.NonceSize)
		if err != nil {
			return domain.Contact{}, err
		}
		c.RequestNonce = nonce
	}
	c.Onion = onion
	if name != "" {
		c.DisplayName = name
	}
	c.Status = domain.ContactRequested
	c.RequestSent = true
	c.RequestedAt = p.now()

	s := p.reg.Get(c)
	s.Update(func(st *session.State) {
		st.Contact = c
		st.Stage = domain.StageRequestSent
		st.RequestedAt = c.RequestedAt
		st.Pending = nil
	})
	if err := p.reg.SaveContact(ctx, c); err != nil {
		return c, err
	}
	p.publish(domain.EventContactUpdated, c, false)

	ct, err := p.reg.Seal(pub, frame.TagHandshakeStart, envelope.HandshakeStart{
		DisplayName: p.cfg.DisplayName,
		Nonce:       c.RequestNonce,
	})
	if err != nil {
		return c, err
	}
	err = s.Do(ctx, func(ctx context.Context) error {
		return p.reg.Transmit(ctx, s, frame.TagHandshakeStart, ct)
	})
	if err != nil {
		p.log.Info("request not delivered", zap.String("peer", peer.Short()), zap.Error(err))
		return c, err
	}
	p.log.Info("chat requested", zap.String("peer", peer.Short()))
	return c, nil
}

// Confirm accepts the open request from peer. On success the contact is
// confirmed and the session established on both sides.
func (p *Protocol) Confirm(ctx context.Context, peer domain.PeerID) error {
	defer p.lock(peer)()
	return p.confirmPeer(ctx, peer)
}

func (p *Protocol) confirmPeer(ctx context.Context, peer domain.PeerID) error {
	s, err := p.pendingSession(ctx, peer)
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	if snap.Stage != domain.StageRequestReceived && snap.Pending == nil {
		return domain.ErrNoPendingRequest
	}
	return p.confirm(ctx, s)
}

// confirm establishes s locally and sends the confirm frame. A failed send
// restores the request so the user can try again.
func (p *Protocol) confirm(ctx context.Context, s *session.Session) error {
	prev := s.Snapshot()
	c := prev.Contact
	nonce := c.RequestNonce
	if prev.Pending != nil {
		c.SigningKey = prev.Pending.SigningKey
		c.Onion = prev.Pending.Onion
		c.EncryptionPublicKey = nil
		if c.DisplayName == "" {
			c.DisplayName = prev.Pending.DisplayName
		}
		nonce = prev.Pending.RequestNonce
	}
	c.Status = domain.ContactConfirmed
	c.RequestSent = false
	c.RequestedAt = time.Time{}
	c.RequestNonce = nil

	ct, err := p.reg.Seal(c.PublicKey, frame.TagHandshakeConfirm, envelope.HandshakeConfirm{
		EncryptionKey: p.reg.Identity().XPub,
		DisplayName:   p.cfg.DisplayName,
		Nonce:         nonce,
	})
	if err != nil {
		return err
	}

	// Establish before sending so frames the peer sends right after the
	// confirm are accepted.
	s.Update(func(st *session.State) {
		st.Contact = c
		st.Stage = domain.StageEstablished
		st.Params = p.reg.Params(c)
		st.Pending = nil
	})
	err = s.Do(ctx, func(ctx context.Context) error {
		return p.reg.Transmit(ctx, s, frame.TagHandshakeConfirm, ct)
	})
	if err != nil {
		s.Update(func(st *session.State) { *st = prev })
		return err
	}

	if err := p.reg.SaveContact(ctx, c); err != nil {
		return err
	}
	p.log.Info("chat confirmed", zap.String("peer", c.ID().Short()))
	p.publish(domain.EventRequestConfirmed, c, false)
	return nil
}

// Cancel drops the open request with peer without sending anything. A
// pending re-request from a confirmed contact is discarded and the existing
// chat kept.
func (p *Protocol) Cancel(ctx context.Context, peer domain.PeerID) error {
	defer p.lock(peer)()
	s, err := p.pendingSession(ctx, peer)
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	if !snap.Stage.Pending() && snap.Pending == nil {
		return domain.ErrNoPendingRequest
	}

	if snap.Contact.Status == domain.ContactConfirmed {
		s.Update(func(st *session.State) {
			st.Pending = nil
			st.RequestedAt = time.Time{}
		})
		p.publish(domain.EventRequestCancelled, snap.Contact, true)
		return nil
	}

	c := snap.Contact
	c.Status = domain.ContactCancelled
	c.RequestSent = false
	c.RequestNonce = nil
	p.reg.Remove(peer)
	if err := p.reg.SaveContact(ctx, c); err != nil {
		return err
	}
	p.publish(domain.EventRequestCancelled, c, false)
	return nil
}

// Block marks peer blocked and ends its session. Later requests from the
// peer are dropped.
func (p *Protocol) Block(ctx context.Context, peer domain.PeerID) error {
	defer p.lock(peer)()
	c, found, err := p.reg.Contacts().LoadContact(ctx, peer)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrUnknownContact
	}
	c.Status = domain.ContactBlocked
	c.RequestSent = false
	c.RequestNonce = nil
	p.reg.Remove(peer)
	if err := p.reg.SaveContact(ctx, c); err != nil {
		return err
	}
	p.publish(domain.EventContactUpdated, c, false)
	return nil
}

// Delete ends the session with peer and forgets the contact. A later
// request from the peer starts over as a new contact.
func (p *Protocol) Delete(ctx context.Context, peer domain.PeerID) (domain.Contact, error) {
	defer p.lock(peer)()
	c, found, err := p.reg.Contacts().LoadContact(ctx, peer)
	if err != nil {
		return domain.Contact{}, err
	}
	if !found {
		return domain.Contact{}, domain.ErrUnknownContact
	}
	p.reg.Remove(peer)
	if err := p.reg.Contacts().DeleteContact(ctx, peer); err != nil {
		return domain.Contact{}, err
	}
	p.log.Info("contact deleted", zap.String("peer", peer.Short()))
	return c, nil
}

// Expire moves requests older than the handshake timeout to expired and
// returns how many it moved.
func (p *Protocol) Expire(ctx context.Context, now time.Time) (int, error) {
	contacts, err := p.reg.Contacts().ListContacts(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range contacts {
		if c.Status != domain.ContactRequested || c.RequestedAt.IsZero() || now.Sub(c.RequestedAt) < p.cfg.Timeout {
			continue
		}
		expired, err := p.expireContact(ctx, c.ID(), now)
		if err != nil {
			return n, err
		}
		if expired {
			n++
		}
	}

	// Unanswered re-requests only live in memory.
	for _, s := range p.reg.Sessions() {
		snap := s.Snapshot()
		if snap.Pending == nil || snap.Contact.Status != domain.ContactConfirmed || now.Sub(snap.RequestedAt) < p.cfg.Timeout {
			continue
		}
		s.Update(func(st *session.State) { st.Pending = nil })
		p.publish(domain.EventRequestExpired, snap.Contact, true)
		n++
	}
	return n, nil
}

// expireContact re-checks c under its lock; a confirm may have won the race.
func (p *Protocol) expireContact(ctx context.Context, peer domain.PeerID, now time.Time) (bool, error) {
	defer p.lock(peer)()
	c, found, err := p.reg.Contacts().LoadContact(ctx, peer)
	if err != nil || !found {
		return false, err
	}
	if c.Status != domain.ContactRequested || now.Sub(c.RequestedAt) < p.cfg.Timeout {
		return false, nil
	}
	c.Status = domain.ContactExpired
	c.RequestSent = false
	c.RequestNonce = nil
	p.reg.Remove(peer)
	if err := p.reg.SaveContact(ctx, c); err != nil {
		return false, err
	}
	p.publish(domain.EventRequestExpired, c, false)
	return true, nil
}

// Run expires stale requests every SweepInterval until ctx ends.
func (p *Protocol) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.SweepInterval)
	defer t.Stop()
	for {
		if n, err := p.Expire(ctx, p.now()); err != nil {
			p.log.Warn("expire requests", zap.Error(err))
		} else if n > 0 {
			p.log.Info("requests expired", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (p *Protocol) handleStart(ctx context.Context, in session.Inbound) error {
	env := in.Envelope
	id := p.reg.Identity()
	peer := env.Peer()
	if env.From == id.XPub {
		return ErrSelf
	}
	var body envelope.HandshakeStart
	if err := env.Decode(frame.TagHandshakeStart, &body); err != nil {
		return err
	}
	if len(body.Nonce) != envelope.NonceSize {
		return &domain.ProtocolError{Tag: byte(frame.TagHandshakeStart), Err: domain.ErrMalformedFrame}
	}
	defer p.lock(peer)()

	c, found, err := p.reg.Contacts().LoadContact(ctx, peer)
	if err != nil {
		return err
	}
	offered := domain.Contact{
		PublicKey:    env.From,
		SigningKey:   env.SigningKey,
		Onion:        env.Onion,
		DisplayName:  body.DisplayName,
		RequestNonce: body.Nonce,
	}
	now := p.now()

	switch {
	case found && c.Status == domain.ContactBlocked:
		return domain.ErrContactBlocked

	case found && c.Status == domain.ContactConfirmed:
		// The chat stays established; the offered keys wait for Confirm.
		s := p.reg.Get(c)
		s.Update(func(st *session.State) {
			st.Pending = &offered
			st.RequestedAt = now
		})
		p.log.Info("re-request received", zap.String("peer", peer.Short()))
		p.publish(domain.EventRequestReceived, offered, true)
		return nil

	case found && c.Status == domain.ContactRequested && c.RequestSent:
		s := p.reg.Get(c)
		if session.CanonicalInitiator(id.XPub, env.From) == id.XPub {
			// Our request wins; the peer adopts it and confirms.
			p.log.Debug("ignoring crossed request", zap.String("peer", peer.Short()))
			return nil
		}
		c.SigningKey, c.Onion = env.SigningKey, env.Onion
		if c.DisplayName == "" {
			c.DisplayName = body.DisplayName
		}
		c.RequestSent = false
		c.RequestNonce = body.Nonce
		s.Update(func(st *session.State) {
			st.Contact = c
			st.Stage = domain.StageRequestReceived
			st.Pending = nil
		})
		p.reg.Touch(s, in.Frame.Conn)
		p.log.Info("crossed request, adopting peer's", zap.String("peer", peer.Short()))
		return p.confirm(ctx, s)
	}

	// A request we already hold is only refreshed, not announced again.
	repeat := found && c.Status == domain.ContactRequested && !c.RequestSent
	if !found {
		c = domain.Contact{PublicKey: env.From, Rules: domain.DefaultChatRules()}
	}
	c.SigningKey = env.SigningKey
	c.Onion = env.Onion
	if c.DisplayName == "" {
		c.DisplayName = body.DisplayName
	}
	c.Status = domain.ContactRequested
	c.RequestSent = false
	c.RequestedAt = now
	c.RequestNonce = body.Nonce

	s := p.reg.Get(c)
	s.Update(func(st *session.State) {
		st.Contact = c
		st.Stage = domain.StageRequestReceived
		st.RequestedAt = now
		st.Pending = nil
	})
	p.reg.Touch(s, in.Frame.Conn)
	if err := p.reg.SaveContact(ctx, c); err != nil {
		return err
	}
	if !repeat {
		p.log.Info("chat request received", zap.String("peer", peer.Short()))
		p.publish(domain.EventRequestReceived, c, false)
	}
	return nil
}

func (p *Protocol) handleConfirm(ctx context.Context, in session.Inbound) error {
	env := in.Envelope
	peer := env.Peer()
	var body envelope.HandshakeConfirm
	if err := env.Decode(frame.TagHandshakeConfirm, &body); err != nil {
		return err
	}
	defer p.lock(peer)()

	s, err := p.pendingSession(ctx, peer)
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	if snap.Stage == domain.StageEstablished && snap.Contact.SigningKey == env.SigningKey {
		return nil
	}
	if snap.Stage != domain.StageRequestSent {
		return &domain.ProtocolError{Tag: byte(frame.TagHandshakeConfirm), Err: domain.ErrNoPendingRequest}
	}
	want := snap.Contact.RequestNonce
	if len(want) != envelope.NonceSize || subtle.ConstantTimeCompare(body.Nonce, want) != 1 {
		return &domain.CryptoError{Op: "confirm", Err: ErrNonceMismatch}
	}
	if !body.EncryptionKey.IsZero() && body.EncryptionKey != env.From {
		return &domain.CryptoError{Op: "confirm", Err: domain.ErrKeyMismatch}
	}

	c := snap.Contact
	c.SigningKey = env.SigningKey
	c.Onion = env.Onion
	if c.DisplayName == "" {
		c.DisplayName = body.DisplayName
	}
	if !body.EncryptionKey.IsZero() {
		key := body.EncryptionKey
		c.EncryptionPublicKey = &key
	}
	c.Status = domain.ContactConfirmed
	c.RequestSent = false
	c.RequestedAt = time.Time{}
	c.RequestNonce = nil

	s.Update(func(st *session.State) {
		st.Contact = c
		st.Stage = domain.StageEstablished
		st.Params = p.reg.Params(c)
		st.Pending = nil
	})
	p.reg.Touch(s, in.Frame.Conn)
	if err := p.reg.SaveContact(ctx, c); err != nil {
		return err
	}
	p.log.Info("request confirmed by peer", zap.String("peer", peer.Short()))
	p.publish(domain.EventRequestConfirmed, c, false)
	return nil
}

// lock takes the handshake lock for peer and returns its release.
func (p *Protocol) lock(peer domain.PeerID) func() {
	v, _ := p.locks.LoadOrStore(peer, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// pendingSession returns the live session for peer, rebuilding it from a
// stored contact with an open request.
func (p *Protocol) pendingSession(ctx context.Context, peer domain.PeerID) (*session.Session, error) {
	if s, ok := p.reg.Lookup(peer); ok {
		return s, nil
	}
	c, found, err := p.reg.Contacts().LoadContact(ctx, peer)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrUnknownContact
	}
	if c.Status != domain.ContactRequested {
		return nil, domain.ErrNoPendingRequest
	}
	return p.reg.Get(c), nil
}

func (p *Protocol) publish(kind domain.EventKind, c domain.Contact, rerequest bool) {
	if p.events == nil {
		return
	}
	c.RequestNonce = nil
	p.events.Publish(domain.Event{
		Kind:      kind,
		Peer:      c.ID(),
		Contact:   &c,
		Rerequest: rerequest,
		At:        p.now(),
	})
}
