package session

import (
	"context"
	"sync"
	"time"

	"ochat/internal/domain"
)

// State is the mutable part of a Session.
type State struct {
	Contact   domain.Contact
	Stage     domain.HandshakeStage
	Params    domain.SessionParams
	Initiator bool
	// Pending holds the keys offered by a request the user has not answered.
	Pending *domain.Contact
	// RequestedAt is when the current request was sent or received.
	RequestedAt  time.Time
	Conn         domain.ConnID
	LastActivity time.Time
}

// Session is the live context shared with one contact.
type Session struct {
	peer domain.PeerID

	mu    sync.Mutex
	state State

	qmu    sync.Mutex
	queue  []func(context.Context)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newSession(st State) *Session {
	return &Session{
		peer:  st.Contact.ID(),
		state: st,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Peer returns the contact's identifier.
func (s *Session) Peer() domain.PeerID { return s.peer }

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update applies fn to the state under the session lock. fn must not block.
func (s *Session) Update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Contact returns the session's contact record.
func (s *Session) Contact() domain.Contact { return s.Snapshot().Contact }

// Stage returns the handshake stage.
func (s *Session) Stage() domain.HandshakeStage { return s.Snapshot().Stage }

// Info returns a read-only view for callers outside the core.
func (s *Session) Info() domain.SessionInfo {
	st := s.Snapshot()
	return domain.SessionInfo{
		Peer:         s.peer,
		Onion:        st.Contact.Onion,
		Conn:         st.Conn,
		Stage:        st.Stage,
		Params:       st.Params,
		Initiator:    st.Initiator,
		LastActivity: st.LastActivity,
	}
}

// Enqueue appends job to the session's FIFO. It reports false once the
// session has been removed.
func (s *Session) Enqueue(job func(ctx context.Context)) bool {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return false
	}
	s.queue = append(s.queue, job)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs job on the FIFO and waits for it.
func (s *Session) Do(ctx context.Context, job func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	if !s.Enqueue(func(ctx context.Context) { errCh <- job(ctx) }) {
		return domain.ErrNotEstablished
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes queued jobs in order. After close it drains what is left.
// after is the previous worker for the same peer, which must finish first.
func (s *Session) run(ctx context.Context, after <-chan struct{}) {
	defer close(s.done)
	if after != nil {
		select {
		case <-after:
		case <-ctx.Done():
			return
		}
	}
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.qmu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		job(ctx)
	}
}

func (s *Session) close() {
	s.qmu.Lock()
	s.closed = true
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
