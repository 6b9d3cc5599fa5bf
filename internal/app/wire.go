package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"ochat/internal/domain"
	"ochat/internal/logging"
	"ochat/internal/services/identity"
	"ochat/internal/store"
	"ochat/internal/transport"
)

// Wire bundles the stores and the identity service. It is enough for
// commands that only touch local state; New builds the networked App on top.
type Wire struct {
	Config     Config
	Log        *zap.Logger
	KV         domain.KeyValueStore
	Identities *store.IdentityStore
	IDs        *identity.Service
	Contacts   *store.ContactStore
	Messages   *store.MessageStore
	Blobs      *store.BlobStore
	// Hub connects memory-mode apps in one process; nil gets a private hub.
	Hub *transport.MemoryHub

	closeKV func() error
}

// NewWire opens the storage selected by cfg.
func NewWire(ctx context.Context, cfg Config, log *zap.Logger) (*Wire, error) {
	log = logging.OrNop(log)
	if cfg.Storage.Driver != store.DriverMemory {
		if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
			return nil, err
		}
	}
	kv, closeKV, err := store.Open(ctx, cfg.Storage.Driver, cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	ids := store.NewIdentityStore(kv)
	return &Wire{
		Config:     cfg,
		Log:        log,
		KV:         kv,
		Identities: ids,
		IDs:        identity.New(ids),
		Contacts:   store.NewContactStore(kv),
		Messages:   store.NewMessageStore(kv),
		Blobs:      store.NewBlobStore(kv),
		closeKV:    closeKV,
	}, nil
}

// Close releases the storage backend.
func (w *Wire) Close() error { return w.closeKV() }

// network builds the transport backend selected by tor.mode.
func (w *Wire) network(id domain.Identity) (transport.Network, error) {
	cfg := w.Config.Tor
	switch cfg.Mode {
	case TorEmbedded, "":
		dataDir := cfg.DataDir
		if dataDir == "" && w.Config.Home != "" {
			dataDir = filepath.Join(w.Config.Home, "tor")
		}
		return transport.NewTorNetwork(transport.TorConfig{
			DataDir: dataDir,
			ExePath: cfg.ExePath,
			Key:     id.EdPriv,
			Verbose: cfg.Verbose,
		}, w.Log), nil
	case TorExternal:
		return transport.NewExternalNetwork(transport.ExternalConfig{
			SocksAddr:        cfg.SocksAddr,
			HiddenServiceDir: cfg.HiddenServiceDir,
			ListenHost:       cfg.ListenHost,
		}, w.Log), nil
	case TorMemory:
		if w.Hub == nil {
			w.Hub = transport.NewMemoryHub()
		}
		return w.Hub.Network(id.Onion), nil
	default:
		return nil, errors.New("unknown tor mode " + cfg.Mode)
	}
}

// Advertise returns id with the onion peers should dial. In external mode
// that is the hidden service tor already publishes, which need not match
// the address derived from the identity key.
func (w *Wire) Advertise(id domain.Identity) (domain.Identity, error) {
	if w.Config.Tor.Mode != TorExternal {
		return id, nil
	}
	onion, err := transport.HiddenServiceHostname(w.Config.Tor.HiddenServiceDir)
	if err != nil {
		return id, err
	}
	id.Onion = onion
	return id, nil
}
