package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ochat/internal/domain"
	"ochat/internal/protocol/frame"
)

// peerConn is one socket, inbound or dialed. Writes are serialised by wmu;
// reads happen only on the socket's read goroutine.
type peerConn struct {
	id      domain.ConnID
	conn    net.Conn
	inbound bool
	// onion is guarded by Service.mu; empty for an inbound socket until Bind.
	onion domain.OnionAddress

	wmu    sync.Mutex
	closed atomic.Bool
}

// write sends one frame. The write is abandoned when ctx ends or timeout
// elapses, whichever comes first.
func (c *peerConn) write(ctx context.Context, tag byte, payload []byte, timeout time.Duration) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := frame.Write(c.conn, frame.Tag(tag), payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *peerConn) close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}
