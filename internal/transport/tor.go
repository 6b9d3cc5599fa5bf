package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/cretz/bine/control"
	"github.com/cretz/bine/tor"
	"go.uber.org/zap"

	"ochat/internal/crypto"
	"ochat/internal/domain"
)

// TorConfig configures the embedded tor process.
type TorConfig struct {
	// DataDir keeps tor state between runs; empty uses a temporary directory.
	DataDir string
	// ExePath overrides the tor binary looked up in PATH.
	ExePath string
	// Key is the onion-service key; the onion address is derived from it.
	Key domain.Ed25519Private
	// Verbose copies tor's control-port debug output to stderr.
	Verbose bool
}

// TorNetwork runs tor as a child process controlled through bine.
type TorNetwork struct {
	cfg TorConfig
	log *zap.Logger

	mu     sync.Mutex
	tor    *tor.Tor
	dialer *tor.Dialer
	onion  *tor.OnionService
	// kill ends the tor process; tor.Start binds the process to its context.
	kill context.CancelFunc
}

// NewTorNetwork returns an unstarted embedded-tor backend.
func NewTorNetwork(cfg TorConfig, log *zap.Logger) *TorNetwork {
	if log == nil {
		log = zap.NewNop()
	}
	return &TorNetwork{cfg: cfg, log: log.Named("tor")}
}

func (n *TorNetwork) Start(ctx context.Context, progress func(int)) error {
	var debug io.Writer
	if n.cfg.Verbose {
		debug = os.Stderr
	}
	conf := &tor.StartConf{
		DataDir:     n.cfg.DataDir,
		ExePath:     n.cfg.ExePath,
		DebugWriter: debug,
	}
	if conf.DataDir == "" {
		conf.TempDataDirBase = os.TempDir()
	}

	procCtx, kill := context.WithCancel(context.Background())
	t, err := tor.Start(procCtx, conf)
	if err != nil {
		kill()
		return fmt.Errorf("start tor: %w", err)
	}
	fail := func(err error) error {
		_ = t.Close()
		kill()
		return err
	}
	if err := bootstrap(ctx, t, progress); err != nil {
		return fail(err)
	}
	dialer, err := t.Dialer(ctx, nil)
	if err != nil {
		return fail(fmt.Errorf("tor dialer: %w", err))
	}

	n.mu.Lock()
	n.tor, n.dialer, n.kill = t, dialer, kill
	n.mu.Unlock()
	n.log.Info("tor bootstrapped", zap.String("data_dir", n.cfg.DataDir))
	return nil
}

// bootstrap enables the network and reports STATUS_CLIENT bootstrap progress
// until tor reaches 100%.
func bootstrap(ctx context.Context, t *tor.Tor, progress func(int)) error {
	events := make(chan control.Event, 16)
	if err := t.Control.AddEventListener(events, control.EventCodeStatusClient); err != nil {
		return fmt.Errorf("tor events: %w", err)
	}
	if err := t.EnableNetwork(ctx, false); err != nil {
		_ = t.Control.RemoveEventListener(events, control.EventCodeStatusClient)
		return fmt.Errorf("enable network: %w", err)
	}

	evCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- t.Control.HandleEvents(evCtx) }()

	handled := false
	defer func() {
		cancel()
		// HandleEvents may be blocked delivering to events; drain until it returns.
		for !handled {
			select {
			case <-events:
			case <-errCh:
				handled = true
			}
		}
		_ = t.Control.RemoveEventListener(events, control.EventCodeStatusClient)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			handled = true
			if err == nil {
				err = errors.New("tor control connection closed")
			}
			return fmt.Errorf("tor events: %w", err)
		case ev := <-events:
			st, ok := ev.(*control.StatusEvent)
			if !ok || st.Action != "BOOTSTRAP" {
				continue
			}
			p, err := strconv.Atoi(st.Arguments["PROGRESS"])
			if err != nil {
				continue
			}
			if progress != nil {
				progress(p)
			}
			if p >= 100 {
				return nil
			}
		}
	}
}

func (n *TorNetwork) Listen(ctx context.Context, port int) (net.Listener, domain.OnionAddress, error) {
	n.mu.Lock()
	t := n.tor
	n.mu.Unlock()
	if t == nil {
		return nil, "", domain.ErrNotRunning
	}

	onion, err := t.Listen(ctx, &tor.ListenConf{
		RemotePorts: []int{port},
		Version3:    true,
		Key:         ed25519.PrivateKey(n.cfg.Key[:]),
	})
	if err != nil {
		return nil, "", err
	}
	n.mu.Lock()
	n.onion = onion
	n.mu.Unlock()
	return onion, domain.OnionAddress(onion.ID).Normalize(), nil
}

func (n *TorNetwork) Dial(ctx context.Context, onion domain.OnionAddress, port int) (net.Conn, error) {
	n.mu.Lock()
	d := n.dialer
	n.mu.Unlock()
	if d == nil {
		return nil, domain.ErrNotRunning
	}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(onion.String(), strconv.Itoa(port)))
}

func (n *TorNetwork) PrivateKey() (string, error) {
	return crypto.TorPrivateKey(n.cfg.Key), nil
}

func (n *TorNetwork) Close() error {
	n.mu.Lock()
	t, onion, kill := n.tor, n.onion, n.kill
	n.tor, n.dialer, n.onion, n.kill = nil, nil, nil, nil
	n.mu.Unlock()

	var errs []error
	if onion != nil {
		errs = append(errs, onion.Close())
	}
	if t != nil {
		errs = append(errs, t.Close())
	}
	if kill != nil {
		kill()
	}
	return errors.Join(errs...)
}
