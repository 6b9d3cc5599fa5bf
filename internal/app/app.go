package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ochat/internal/domain"
	"ochat/internal/services/delivery"
	"ochat/internal/services/handshake"
	"ochat/internal/services/identity"
	"ochat/internal/services/message"
	"ochat/internal/services/session"
	"ochat/internal/transport"
	"ochat/internal/util/broadcast"
)

// ErrNoIdentity is returned by New before `ochat init` has run.
var ErrNoIdentity = errors.New("no identity; run `ochat init` first")

// App is the messaging core for one unlocked identity.
type App struct {
	w   *Wire
	log *zap.Logger

	Transport *transport.Service
	Registry  *session.Registry
	Handshake *handshake.Protocol
	Tracker   *delivery.Tracker
	Channel   *message.Channel

	events     *broadcast.Hub[domain.Event]
	stopStates func()

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New unlocks the identity with the configured passphrase and builds the
// services around it. Nothing touches the network until Start.
func New(w *Wire) (*App, error) {
	cfg := w.Config
	has, err := w.Identities.HasIdentity()
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrNoIdentity
	}
	id, err := w.IDs.LoadIdentity(cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	nw, err := w.network(id)
	if err != nil {
		return nil, err
	}
	if id, err = w.Advertise(id); err != nil {
		return nil, err
	}

	tr := transport.New(transport.Config{
		Port:             cfg.Tor.Port,
		DialTimeout:      cfg.Tor.DialTimeout,
		BootstrapTimeout: cfg.Tor.BootstrapTimeout,
		WriteTimeout:     cfg.Transport.WriteTimeout,
		MaxFrame:         cfg.Transport.MaxFrame,
		FramesPerSecond:  cfg.Transport.FramesPerSecond,
		FrameBurst:       cfg.Transport.FrameBurst,
	}, nw, w.Log)
	reg := session.New(id, w.Contacts, tr, w.Log)
	tr.Handle(reg.Dispatch)

	events := broadcast.New[domain.Event]()
	hs := handshake.New(handshake.Config{
		Timeout:       cfg.Handshake.Timeout,
		SweepInterval: cfg.Handshake.SweepInterval,
		DisplayName:   cfg.DisplayName,
	}, reg, events, w.Log)
	tracker := delivery.New(delivery.Config{
		SendTimeout:            cfg.Delivery.SendTimeout,
		AutoRetries:            cfg.Delivery.AutoRetries,
		Backoff:                cfg.Delivery.Backoff,
		MaxBackoff:             cfg.Delivery.MaxBackoff,
		MaxConsecutiveFailures: cfg.Delivery.MaxConsecutiveFailures,
	}, w.Messages, events, w.Log)
	ch := message.New(message.Config{
		ChunkSize:       cfg.Message.ChunkSize,
		MaxFileSize:     cfg.Message.MaxFileSize,
		TypingInterval:  cfg.Message.TypingInterval,
		TransferTimeout: cfg.Message.TransferTimeout,
	}, reg, tracker, w.Messages, w.Blobs, events, w.Log)

	states, stop := tr.States()
	a := &App{
		w:          w,
		log:        w.Log.Named("app"),
		Transport:  tr,
		Registry:   reg,
		Handshake:  hs,
		Tracker:    tracker,
		Channel:    ch,
		events:     events,
		stopStates: stop,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for st := range states {
			reg.HandleServerState(st)
		}
	}()
	return a, nil
}

// Start brings up the onion service and the background loops: request
// expiry, auto-deletion and, when presence.interval is set, reachability
// probes. Messages a previous run left in progress are marked failed first.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	if err := a.Channel.Recover(ctx); err != nil {
		return err
	}
	if err := a.Transport.Start(ctx); err != nil {
		return err
	}
	a.advertiseServed()

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.goLoop(func() { a.Handshake.Run(runCtx) })
	if d := a.w.Config.Message.PruneInterval; d > 0 {
		a.goLoop(func() { a.Channel.Run(runCtx, d) })
	}
	if d := a.w.Config.Presence.Interval; d > 0 {
		a.goLoop(func() { a.Registry.Watch(runCtx, d) })
	}
	return nil
}

// advertiseServed makes envelopes and Identity carry the onion the transport
// actually serves.
func (a *App) advertiseServed() {
	served, err := a.Transport.OnionAddress()
	if err != nil || served == a.Registry.Identity().Onion {
		return
	}
	a.log.Warn("served onion differs from identity onion; advertising the served one",
		zap.String("served", served.String()),
		zap.String("identity", a.Registry.Identity().Onion.String()),
	)
	a.Registry.SetOnion(served)
}

func (a *App) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop halts the background loops and the onion service. Contacts, history
// and the identity stay on disk; Start may be called again.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return a.Transport.Stop()
}

// Close stops the app and releases every resource including storage.
func (a *App) Close() error {
	err := a.Stop()
	a.stopStates()
	a.Registry.Close()
	a.wg.Wait()
	a.events.Close()
	return errors.Join(err, a.w.Close())
}

// ServerStates streams transport lifecycle and socket notifications.
func (a *App) ServerStates() (<-chan domain.ServerState, func()) { return a.Transport.States() }

// SessionStates streams per-contact connectivity.
func (a *App) SessionStates() (<-chan domain.SessionEvent, func()) { return a.Registry.States() }

// Events streams chat-level notifications.
func (a *App) Events() (<-chan domain.Event, func()) { return a.events.Subscribe(0) }

// Identity returns what the user shares to be contacted.
func (a *App) Identity() domain.PublicIdentity { return identity.Public(a.Registry.Identity()) }

// OnionAddress returns the served address once running.
func (a *App) OnionAddress() (domain.OnionAddress, error) { return a.Transport.OnionAddress() }

// PrivateKey returns the onion-service key in tor's key-blob form.
func (a *App) PrivateKey() (string, error) { return a.Transport.PrivateKey() }

// RequestChat asks the owner of pub at onion to chat.
func (a *App) RequestChat(ctx context.Context, pub domain.X25519Public, onion domain.OnionAddress, name string) (domain.Contact, error) {
	return a.Handshake.Request(ctx, pub, onion, name)
}

// ConfirmRequest accepts the open request from peer.
func (a *App) ConfirmRequest(ctx context.Context, peer domain.PeerID) error {
	return a.Handshake.Confirm(ctx, peer)
}

// CancelRequest drops the open request with peer without notifying it.
func (a *App) CancelRequest(ctx context.Context, peer domain.PeerID) error {
	return a.Handshake.Cancel(ctx, peer)
}

// BlockContact drops all later traffic from peer.
func (a *App) BlockContact(ctx context.Context, peer domain.PeerID) error {
	return a.Handshake.Block(ctx, peer)
}

// RemoveContact forgets peer together with its history.
func (a *App) RemoveContact(ctx context.Context, peer domain.PeerID) error {
	c, err := a.Handshake.Delete(ctx, peer)
	if err != nil {
		return err
	}
	if err := a.Channel.RemoveHistory(ctx, peer); err != nil {
		return err
	}
	a.log.Info("contact removed", zap.String("peer", c.ID().Short()))
	return nil
}

// SetRules replaces peer's chat rules.
func (a *App) SetRules(ctx context.Context, peer domain.PeerID, rules domain.ChatRules) (domain.Contact, error) {
	c, found, err := a.w.Contacts.LoadContact(ctx, peer)
	if err != nil {
		return domain.Contact{}, err
	}
	if !found {
		return domain.Contact{}, domain.ErrUnknownContact
	}
	c.Rules = rules
	if err := a.Registry.SaveContact(ctx, c); err != nil {
		return domain.Contact{}, err
	}
	a.events.Publish(domain.Event{Kind: domain.EventContactUpdated, Peer: peer, Contact: &c, At: time.Now()})
	return c, nil
}

// SendMessage queues text to peer.
func (a *App) SendMessage(ctx context.Context, peer domain.PeerID, text string) (domain.MessageID, error) {
	return a.Channel.SendText(ctx, peer, text)
}

// SendReply queues text quoting the message replyTo.
func (a *App) SendReply(ctx context.Context, peer domain.PeerID, replyTo domain.MessageID, text string) (domain.MessageID, error) {
	return a.Channel.SendReply(ctx, peer, replyTo, text)
}

// SendReaction queues a reaction to the message to.
func (a *App) SendReaction(ctx context.Context, peer domain.PeerID, to domain.MessageID, reaction string) (domain.MessageID, error) {
	return a.Channel.SendReaction(ctx, peer, to, reaction)
}

// SendFile queues data as a file named name.
func (a *App) SendFile(ctx context.Context, peer domain.PeerID, name string, data []byte) (domain.MessageID, error) {
	return a.Channel.SendFile(ctx, peer, name, data)
}

// SetTyping tells peer whether the user is typing.
func (a *App) SetTyping(ctx context.Context, peer domain.PeerID, typing bool) error {
	return a.Channel.SetTyping(ctx, peer, typing)
}

// RetrySendMessage re-sends a failed message under the same id.
func (a *App) RetrySendMessage(ctx context.Context, peer domain.PeerID, id domain.MessageID) error {
	return a.Channel.Retry(ctx, peer, id)
}

// RemoveMessage deletes one message from local history.
func (a *App) RemoveMessage(ctx context.Context, peer domain.PeerID, id domain.MessageID) error {
	return a.Channel.Remove(ctx, peer, id)
}

// Contacts lists every known contact.
func (a *App) Contacts(ctx context.Context) ([]domain.Contact, error) {
	return a.w.Contacts.ListContacts(ctx)
}

// Sessions lists the live sessions.
func (a *App) Sessions() []domain.SessionInfo {
	live := a.Registry.Sessions()
	out := make([]domain.SessionInfo, 0, len(live))
	for _, s := range live {
		out = append(out, s.Info())
	}
	return out
}

// History returns the messages exchanged with peer in order.
func (a *App) History(ctx context.Context, peer domain.PeerID) ([]domain.Message, error) {
	return a.Channel.History(ctx, peer)
}

// File returns a stored file's contents.
func (a *App) File(ctx context.Context, id domain.TransferID) ([]byte, error) {
	return a.Channel.File(ctx, id)
}
