package transport

import (
	"context"
	"net"

	"ochat/internal/domain"
)

// Network hosts the local onion service and reaches remote ones.
//
// Start blocks until the anonymity network is usable, reporting bootstrap
// percentages through progress. Listen is called once after Start.
type Network interface {
	Start(ctx context.Context, progress func(percent int)) error
	Listen(ctx context.Context, port int) (net.Listener, domain.OnionAddress, error)
	Dial(ctx context.Context, onion domain.OnionAddress, port int) (net.Conn, error)
	PrivateKey() (string, error)
	Close() error
}
