package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"ochat/internal/domain"
)

// MemoryHub connects MemoryNetworks in-process over net.Pipe.
type MemoryHub struct {
	mu        sync.Mutex
	listeners map[domain.OnionAddress]*memListener
	held      map[domain.OnionAddress]bool
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		listeners: make(map[domain.OnionAddress]*memListener),
		held:      make(map[domain.OnionAddress]bool),
	}
}

// Network returns a backend that serves onion on this hub.
func (h *MemoryHub) Network(onion domain.OnionAddress) *MemoryNetwork {
	return &MemoryNetwork{hub: h, onion: onion.Normalize()}
}

// Hold makes dials to onion block until their context ends.
func (h *MemoryHub) Hold(onion domain.OnionAddress, hold bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held[onion.Normalize()] = hold
}

func (h *MemoryHub) dial(ctx context.Context, onion domain.OnionAddress) (net.Conn, error) {
	h.mu.Lock()
	l := h.listeners[onion]
	held := h.held[onion]
	h.mu.Unlock()

	if held {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if l == nil {
		return nil, errors.New("connection refused")
	}

	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
	case <-ctx.Done():
	}
	_ = client.Close()
	_ = server.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("connection refused")
}

// MemoryNetwork is a Network backed by a MemoryHub.
type MemoryNetwork struct {
	hub   *MemoryHub
	onion domain.OnionAddress
	// FailStart, when set, is returned by Start.
	FailStart error
}

func (n *MemoryNetwork) Start(ctx context.Context, progress func(int)) error {
	if n.FailStart != nil {
		return n.FailStart
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

func (n *MemoryNetwork) Listen(_ context.Context, _ int) (net.Listener, domain.OnionAddress, error) {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	if _, taken := n.hub.listeners[n.onion]; taken {
		return nil, "", errors.New("address in use")
	}
	l := &memListener{
		hub:   n.hub,
		onion: n.onion,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	n.hub.listeners[n.onion] = l
	return l, n.onion, nil
}

func (n *MemoryNetwork) Dial(ctx context.Context, onion domain.OnionAddress, _ int) (net.Conn, error) {
	return n.hub.dial(ctx, onion.Normalize())
}

func (n *MemoryNetwork) PrivateKey() (string, error) {
	return "ED25519-V3:memory:" + n.onion.String(), nil
}

func (n *MemoryNetwork) Close() error { return nil }

type memListener struct {
	hub   *MemoryHub
	onion domain.OnionAddress
	conns chan net.Conn
	done  chan struct{}
	once  sync.Once
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.hub.mu.Lock()
		if l.hub.listeners[l.onion] == l {
			delete(l.hub.listeners, l.onion)
		}
		l.hub.mu.Unlock()
	})
	return nil
}

func (l *memListener) Addr() net.Addr { return memAddr(l.onion) }

type memAddr domain.OnionAddress

func (a memAddr) Network() string { return "memory" }
func (a memAddr) String() string  { return string(a) }
