package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"ochat/internal/crypto"
	"ochat/internal/domain"
)

// hsSecretHeader prefixes the expanded key in tor's hs_ed25519_secret_key.
const hsSecretHeader = "== ed25519v1-secret: type0 =="

// ExternalConfig points at a tor daemon managed outside ochat.
//
// torrc must publish the local port through the hidden-service directory:
//
//	HiddenServiceDir <HiddenServiceDir>
//	HiddenServicePort <port> 127.0.0.1:<port>
type ExternalConfig struct {
	SocksAddr        string
	HiddenServiceDir string
	ListenHost       string
}

// ExternalNetwork dials through a SOCKS5 proxy and serves a hidden service
// configured in torrc.
type ExternalNetwork struct {
	cfg ExternalConfig
	log *zap.Logger

	mu     sync.Mutex
	dialer proxy.ContextDialer
}

// NewExternalNetwork returns a backend for a system tor daemon.
func NewExternalNetwork(cfg ExternalConfig, log *zap.Logger) *ExternalNetwork {
	if cfg.ListenHost == "" {
		cfg.ListenHost = "127.0.0.1"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExternalNetwork{cfg: cfg, log: log.Named("tor-external")}
}

// Start checks that the SOCKS port answers; bootstrap is the daemon's job.
func (n *ExternalNetwork) Start(ctx context.Context, progress func(int)) error {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", n.cfg.SocksAddr)
	if err != nil {
		return fmt.Errorf("socks %s: %w", n.cfg.SocksAddr, err)
	}
	_ = c.Close()

	pd, err := proxy.SOCKS5("tcp", n.cfg.SocksAddr, nil, proxy.Direct)
	if err != nil {
		return fmt.Errorf("socks dialer: %w", err)
	}
	cd, ok := pd.(proxy.ContextDialer)
	if !ok {
		return errors.New("socks dialer does not support contexts")
	}

	n.mu.Lock()
	n.dialer = cd
	n.mu.Unlock()
	n.log.Info("using system tor", zap.String("socks", n.cfg.SocksAddr), zap.String("hs_dir", n.cfg.HiddenServiceDir))
	if progress != nil {
		progress(100)
	}
	return nil
}

func (n *ExternalNetwork) Listen(ctx context.Context, port int) (net.Listener, domain.OnionAddress, error) {
	onion, err := HiddenServiceHostname(n.cfg.HiddenServiceDir)
	if err != nil {
		return nil, "", err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(n.cfg.ListenHost, strconv.Itoa(port)))
	if err != nil {
		return nil, "", err
	}
	return ln, onion, nil
}

func (n *ExternalNetwork) Dial(ctx context.Context, onion domain.OnionAddress, port int) (net.Conn, error) {
	n.mu.Lock()
	d := n.dialer
	n.mu.Unlock()
	if d == nil {
		return nil, domain.ErrNotRunning
	}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(onion.String(), strconv.Itoa(port)))
}

// PrivateKey reads the expanded key tor generated for the hidden service.
func (n *ExternalNetwork) PrivateKey() (string, error) {
	b, err := os.ReadFile(filepath.Join(n.cfg.HiddenServiceDir, "hs_ed25519_secret_key"))
	if err != nil {
		return "", err
	}
	if len(b) != 96 || !bytes.HasPrefix(b, []byte(hsSecretHeader)) {
		return "", errors.New("unrecognised hs_ed25519_secret_key")
	}
	return "ED25519-V3:" + base64.StdEncoding.EncodeToString(b[32:]), nil
}

func (n *ExternalNetwork) Close() error {
	n.mu.Lock()
	n.dialer = nil
	n.mu.Unlock()
	return nil
}

// HiddenServiceHostname reads the onion address tor wrote for the hidden
// service in dir. It is the address peers reach this node at in external
// mode, whatever key the identity holds.
func HiddenServiceHostname(dir string) (domain.OnionAddress, error) {
	b, err := os.ReadFile(filepath.Join(dir, "hostname"))
	if err != nil {
		return "", fmt.Errorf("hidden service hostname: %w", err)
	}
	onion := domain.OnionAddress(strings.TrimSpace(string(b))).Normalize()
	if !crypto.ValidOnion(onion) {
		return "", fmt.Errorf("hidden service hostname %q is not a v3 onion", onion)
	}
	return onion, nil
}
