package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ochat/internal/domain"
	"ochat/internal/protocol/frame"
	"ochat/internal/util/broadcast"
)

// Config tunes a Service. Zero fields take the defaults below.
type Config struct {
	// Port is the virtual onion port served locally and dialed on peers.
	Port             int
	DialTimeout      time.Duration
	BootstrapTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrame         int
	// FramesPerSecond and FrameBurst throttle each socket's read loop.
	FramesPerSecond float64
	FrameBurst      int
}

const (
	DefaultPort             = 11009
	DefaultDialTimeout      = 45 * time.Second
	DefaultBootstrapTimeout = 3 * time.Minute
	DefaultWriteTimeout     = 30 * time.Second
	DefaultFramesPerSecond  = 50
)

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = frame.DefaultMaxSize
	}
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = DefaultFramesPerSecond
	}
	if c.FrameBurst <= 0 {
		c.FrameBurst = int(2 * c.FramesPerSecond)
	}
	return c
}

// Handler receives every frame read from any socket, in per-socket order.
// It runs on the socket's read goroutine.
type Handler func(ctx context.Context, f frame.Frame)

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateStarting
	stateRunning
	stateFailed
	stateStopped
)

// Service hosts the local onion service and carries frames to and from peers.
type Service struct {
	cfg     Config
	network Network
	log     *zap.Logger
	states  *broadcast.Hub[domain.ServerState]
	handler atomic.Pointer[Handler]
	nextID  atomic.Uint64

	startMu sync.Mutex

	mu         sync.Mutex
	lifecycle  lifecycle
	abortStart context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	ln         net.Listener
	onion      domain.OnionAddress
	conns      map[domain.ConnID]*peerConn
	pool       map[domain.OnionAddress]*peerConn
	dialLocks  map[domain.OnionAddress]*sync.Mutex
	wg         sync.WaitGroup
}

var _ domain.Transport = (*Service)(nil)

// New returns an idle Service on network.
func New(cfg Config, network Network, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		network:   network,
		log:       log.Named("transport"),
		states:    broadcast.New[domain.ServerState](),
		conns:     make(map[domain.ConnID]*peerConn),
		pool:      make(map[domain.OnionAddress]*peerConn),
		dialLocks: make(map[domain.OnionAddress]*sync.Mutex),
	}
}

// Handle installs the frame handler. Call it before Start.
func (s *Service) Handle(h Handler) { s.handler.Store(&h) }

// States subscribes to lifecycle and socket notifications.
func (s *Service) States() (<-chan domain.ServerState, func()) {
	return s.states.Subscribe(0)
}

// Running reports whether the onion service is up.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle == stateRunning
}

// Start bootstraps the network and begins serving. It returns nil when the
// service is already running; failures are *domain.ServiceError wrapping
// domain.ErrBootstrapTimeout or domain.ErrBindFailed.
func (s *Service) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.lifecycle == stateRunning {
		s.mu.Unlock()
		return nil
	}
	bctx, abort := context.WithTimeout(ctx, s.cfg.BootstrapTimeout)
	defer abort()
	s.lifecycle = stateStarting
	s.abortStart = abort
	s.mu.Unlock()

	s.publish(domain.ServerState{Kind: domain.ServerStarting, Port: s.cfg.Port})

	err := s.network.Start(bctx, func(p int) {
		s.publish(domain.ServerState{Kind: domain.ServerBootstrapping, Progress: p})
	})
	if err != nil {
		_ = s.network.Close()
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrBootstrapTimeout, err)
		}
		return s.failStart(err)
	}

	ln, onion, err := s.network.Listen(bctx, s.cfg.Port)
	if err != nil {
		_ = s.network.Close()
		if errors.Is(bctx.Err(), context.DeadlineExceeded) {
			return s.failStart(fmt.Errorf("%w: %v", domain.ErrBootstrapTimeout, err))
		}
		return s.failStart(fmt.Errorf("%w: %v", domain.ErrBindFailed, err))
	}

	s.mu.Lock()
	if s.lifecycle != stateStarting {
		s.mu.Unlock()
		_ = ln.Close()
		_ = s.network.Close()
		return &domain.ServiceError{Op: "start", Err: domain.ErrStopped}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = runCtx, cancel
	s.ln, s.onion = ln, onion
	s.lifecycle = stateRunning
	s.abortStart = nil
	s.wg.Add(1)
	s.mu.Unlock()

	go s.acceptLoop(runCtx, ln)

	s.log.Info("onion service running", zap.String("onion", onion.String()), zap.Int("port", s.cfg.Port))
	s.publish(domain.ServerState{Kind: domain.ServerRunning, Port: s.cfg.Port, Onion: onion})
	return nil
}

func (s *Service) failStart(err error) error {
	s.mu.Lock()
	if s.lifecycle == stateStarting {
		s.lifecycle = stateFailed
	}
	s.abortStart = nil
	s.mu.Unlock()

	s.log.Warn("onion service failed to start", zap.Error(err))
	s.publish(domain.ServerState{Kind: domain.ServerStartFailed, Reason: err.Error()})
	return &domain.ServiceError{Op: "start", Err: err}
}

// Stop closes the listener and every socket and cancels in-flight sends.
// Stopping an idle or stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	switch s.lifecycle {
	case stateStarting:
		s.lifecycle = stateStopped
		if s.abortStart != nil {
			s.abortStart()
		}
		s.mu.Unlock()
		s.publish(domain.ServerState{Kind: domain.ServerStopped})
		return nil
	case stateRunning:
	default:
		s.mu.Unlock()
		return nil
	}

	s.lifecycle = stateStopped
	cancel, ln := s.cancel, s.ln
	conns := make([]*peerConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.ln, s.onion = nil, ""
	s.mu.Unlock()

	cancel()
	_ = ln.Close()
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()

	err := s.network.Close()
	s.log.Info("onion service stopped")
	s.publish(domain.ServerState{Kind: domain.ServerStopped})
	if err != nil {
		return &domain.ServiceError{Op: "stop", Err: err}
	}
	return nil
}

// OnionAddress returns the served address once running.
func (s *Service) OnionAddress() (domain.OnionAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != stateRunning {
		return "", &domain.ServiceError{Op: "onion_address", Err: domain.ErrNotRunning}
	}
	return s.onion, nil
}

// PrivateKey returns the onion-service key in tor's "ED25519-V3:" form.
func (s *Service) PrivateKey() (string, error) {
	if !s.Running() {
		return "", &domain.ServiceError{Op: "private_key", Err: domain.ErrNotRunning}
	}
	return s.network.PrivateKey()
}

// Send writes one frame to onion over the pooled socket, dialing if needed.
// All failures are *domain.TransportError.
func (s *Service) Send(ctx context.Context, to domain.OnionAddress, tag byte, payload []byte) error {
	to = to.Normalize()
	runCtx, err := s.runContext()
	if err != nil {
		return &domain.TransportError{Op: "send", Onion: to, Err: err}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(runCtx, cancel)()

	c, err := s.connFor(ctx, runCtx, to)
	if err != nil {
		return err
	}
	if err := c.write(ctx, tag, payload, s.cfg.WriteTimeout); err != nil {
		s.drop(c)
		if runCtx.Err() != nil {
			return &domain.TransportError{Op: "write", Onion: to, Err: domain.ErrStopped}
		}
		return &domain.TransportError{Op: "write", Onion: to, Err: fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)}
	}
	if c.inbound {
		s.publish(domain.ServerState{
			Kind:  domain.ServerResponseSent,
			Conn:  c.id,
			Onion: to,
			Size:  frame.HeaderSize + 1 + len(payload),
			Tag:   tag,
		})
	}
	return nil
}

// Probe reports whether onion accepts a connection. A successful probe
// leaves the socket pooled for later sends.
func (s *Service) Probe(ctx context.Context, onion domain.OnionAddress) bool {
	onion = onion.Normalize()
	runCtx, err := s.runContext()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(runCtx, cancel)()

	_, err = s.connFor(ctx, runCtx, onion)
	return err == nil
}

// Bind attaches an inbound socket to the peer that authenticated on it so
// replies reuse the socket. An existing live socket for onion is kept.
func (s *Service) Bind(id domain.ConnID, onion domain.OnionAddress) {
	onion = onion.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conns[id]
	if !ok || c.closed.Load() || c.onion != "" {
		return
	}
	c.onion = onion
	if cur, ok := s.pool[onion]; ok && !cur.closed.Load() {
		return
	}
	s.pool[onion] = c
}

func (s *Service) runContext() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != stateRunning {
		return nil, domain.ErrNotRunning
	}
	return s.ctx, nil
}

func (s *Service) dialLock(onion domain.OnionAddress) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.dialLocks[onion]
	if !ok {
		l = &sync.Mutex{}
		s.dialLocks[onion] = l
	}
	return l
}

func (s *Service) pooled(onion domain.OnionAddress) *peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.pool[onion]; ok && !c.closed.Load() {
		return c
	}
	return nil
}

// connFor returns the pooled socket for onion or dials a new one. Dials to
// the same onion are serialised so concurrent senders share one socket.
func (s *Service) connFor(ctx, runCtx context.Context, onion domain.OnionAddress) (*peerConn, error) {
	l := s.dialLock(onion)
	l.Lock()
	defer l.Unlock()

	if c := s.pooled(onion); c != nil {
		return c, nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	nc, err := s.network.Dial(dctx, onion, s.cfg.Port)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, &domain.TransportError{Op: "dial", Onion: onion, Err: domain.ErrStopped}
		}
		return nil, &domain.TransportError{Op: "dial", Onion: onion, Err: fmt.Errorf("%w: %v", domain.ErrPeerUnreachable, err)}
	}
	c := s.track(nc, onion, false)
	if c == nil {
		_ = nc.Close()
		return nil, &domain.TransportError{Op: "dial", Onion: onion, Err: domain.ErrStopped}
	}
	s.log.Debug("connected", zap.String("onion", onion.String()), zap.Uint64("conn", uint64(c.id)))
	return c, nil
}

// track registers a socket and starts its read loop. It returns nil once
// the service has stopped.
func (s *Service) track(nc net.Conn, onion domain.OnionAddress, inbound bool) *peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != stateRunning {
		return nil
	}

	c := &peerConn{
		id:      domain.ConnID(s.nextID.Add(1)),
		conn:    nc,
		inbound: inbound,
		onion:   onion,
	}
	s.conns[c.id] = c
	if onion != "" {
		s.pool[onion] = c
	}
	if inbound {
		s.publish(domain.ServerState{Kind: domain.ServerConnectionAccepted, Conn: c.id})
	}

	s.wg.Add(1)
	go s.readLoop(s.ctx, c)
	return c
}

func (s *Service) drop(c *peerConn) {
	c.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool[c.onion] == c {
		delete(s.pool, c.onion)
	}
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if s.track(nc, "", true) == nil {
			_ = nc.Close()
			return
		}
	}
}

func (s *Service) readLoop(ctx context.Context, c *peerConn) {
	defer s.wg.Done()
	defer s.disconnected(c)

	r := frame.NewReader(c.conn, s.cfg.MaxFrame)
	limiter := rate.NewLimiter(rate.Limit(s.cfg.FramesPerSecond), s.cfg.FrameBurst)
	for {
		f, err := r.Next()
		if err != nil {
			if frame.Recoverable(err) {
				s.log.Debug("dropping frame", zap.Uint64("conn", uint64(c.id)), zap.Error(err))
				continue
			}
			if ctx.Err() == nil && !c.closed.Load() && !errors.Is(err, io.EOF) {
				s.log.Debug("read ended", zap.Uint64("conn", uint64(c.id)), zap.Error(err))
			}
			return
		}

		size := frame.HeaderSize + 1 + len(f.Payload)
		s.publish(domain.ServerState{Kind: domain.ServerBytesReceived, Conn: c.id, Size: size})
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		f.Conn = c.id
		s.publish(domain.ServerState{Kind: domain.ServerMessageAssembled, Conn: c.id, Size: size, Tag: byte(f.Tag)})

		if h := s.handler.Load(); h != nil {
			(*h)(ctx, f)
		}
	}
}

func (s *Service) disconnected(c *peerConn) {
	c.close()
	s.mu.Lock()
	delete(s.conns, c.id)
	if s.pool[c.onion] == c {
		delete(s.pool, c.onion)
	}
	onion := c.onion
	s.mu.Unlock()

	s.publish(domain.ServerState{Kind: domain.ServerPeerDisconnected, Conn: c.id, Onion: onion})
}

func (s *Service) publish(st domain.ServerState) {
	st.At = time.Now()
	s.states.Publish(st)
}
