package app_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ochat/internal/app"
	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/protocol/envelope"
	"ochat/internal/protocol/frame"
	"ochat/internal/transport"
)

const passphrase = "Correct-Horse-42!"

func memoryConfig(t *testing.T) app.Config {
	t.Helper()
	v := viper.New()
	v.Set("home", t.TempDir())
	v.Set("tor.mode", app.TorMemory)
	v.Set("storage.driver", "memory")
	v.Set("passphrase", passphrase)
	cfg, err := app.LoadConfig(v, nil)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, hub *transport.MemoryHub, name string) (*app.App, <-chan domain.Event) {
	t.Helper()
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.DisplayName = name

	w, err := app.NewWire(ctx, cfg, zaptest.NewLogger(t).Named(name))
	require.NoError(t, err)
	w.Hub = hub
	_, _, err = w.IDs.GenerateIdentity(passphrase)
	require.NoError(t, err)

	a, err := app.New(w)
	require.NoError(t, err)
	events, cancel := a.Events()
	t.Cleanup(func() {
		cancel()
		_ = a.Close()
	})
	require.NoError(t, a.Start(ctx))
	return a, events
}

func wait(t *testing.T, events <-chan domain.Event, kind domain.EventKind) domain.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return domain.Event{}
		}
	}
}

func TestLoadConfig_Layers(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "ochat.yaml"), []byte("tor:\n  port: 12000\nhandshake:\n  timeout: 1h\n"), 0o600))
	t.Setenv("OCHAT_DELIVERY_AUTO_RETRIES", "5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("home", "", "")
	flags.String("api-listen", "", "")
	require.NoError(t, flags.Parse([]string{"--home", home, "--api-listen", "127.0.0.1:9999"}))

	cfg, err := app.LoadConfig(viper.New(), flags)
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, 12000, cfg.Tor.Port)
	assert.Equal(t, time.Hour, cfg.Handshake.Timeout)
	assert.Equal(t, 5, cfg.Delivery.AutoRetries)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
	assert.Equal(t, app.TorEmbedded, cfg.Tor.Mode)
	assert.Equal(t, 45*time.Second, cfg.Tor.DialTimeout)
	assert.Equal(t, 32<<10, cfg.Message.ChunkSize)
}

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "api.listen", app.FlagKey("api-listen"))
	assert.Equal(t, "tor.dial_timeout", app.FlagKey("tor-dial-timeout"))
	assert.Equal(t, "display_name", app.FlagKey("display-name"))
	assert.Equal(t, "home", app.FlagKey("home"))
}

func TestLoadConfig_RejectsExternalWithoutHiddenServiceDir(t *testing.T) {
	v := viper.New()
	v.Set("home", t.TempDir())
	v.Set("tor.mode", app.TorExternal)
	_, err := app.LoadConfig(v, nil)
	assert.Error(t, err)
}

func TestNew_RequiresIdentity(t *testing.T) {
	w, err := app.NewWire(context.Background(), memoryConfig(t), nil)
	require.NoError(t, err)
	defer w.Close()

	_, err = app.New(w)
	assert.ErrorIs(t, err, app.ErrNoIdentity)
}

func TestApp_HelloBetweenTwoPeers(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewMemoryHub()
	alice, aliceEvents := newApp(t, hub, "alice")
	bob, bobEvents := newApp(t, hub, "bob")

	require.NoError(t, alice.Start(ctx))
	onion, err := alice.OnionAddress()
	require.NoError(t, err)
	assert.Equal(t, alice.Identity().Onion, onion)

	bobID := bob.Identity()
	_, err = alice.RequestChat(ctx, bobID.PublicKey, bobID.Onion, "bob")
	require.NoError(t, err)
	req := wait(t, bobEvents, domain.EventRequestReceived)
	assert.Equal(t, "alice", req.Contact.DisplayName)

	require.NoError(t, bob.ConfirmRequest(ctx, req.Peer))
	wait(t, aliceEvents, domain.EventRequestConfirmed)

	id, err := alice.SendMessage(ctx, bobID.PublicKey.PeerID(), "hello")
	require.NoError(t, err)
	got := wait(t, bobEvents, domain.EventMessageReceived)
	assert.Equal(t, id, got.Message.ID)
	assert.Equal(t, "hello", got.Message.Payload.Text)

	require.Eventually(t, func() bool {
		hist, err := alice.History(ctx, bobID.PublicKey.PeerID())
		return err == nil && len(hist) == 1 && hist[0].Status == domain.StatusDelivered
	}, 3*time.Second, 10*time.Millisecond)

	sessions := bob.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.StageEstablished, sessions[0].Stage)

	require.NoError(t, alice.RemoveContact(ctx, bobID.PublicKey.PeerID()))
	contacts, err := alice.Contacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	hist, err := alice.History(ctx, bobID.PublicKey.PeerID())
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestApp_SetRules(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewMemoryHub()
	alice, aliceEvents := newApp(t, hub, "alice")
	bob, _ := newApp(t, hub, "bob")

	bobID := bob.Identity()
	_, err := alice.RequestChat(ctx, bobID.PublicKey, bobID.Onion, "bob")
	require.NoError(t, err)

	c, err := alice.SetRules(ctx, bobID.PublicKey.PeerID(), domain.ChatRules{AutoDeleteAfter: time.Hour})
	require.NoError(t, err)
	assert.False(t, c.Rules.TypingIndicator)
	for {
		ev := wait(t, aliceEvents, domain.EventContactUpdated)
		if ev.Contact.Rules.AutoDeleteAfter == time.Hour {
			break
		}
	}

	_, err = alice.SetRules(ctx, "unknown", domain.DefaultChatRules())
	assert.ErrorIs(t, err, domain.ErrUnknownContact)
}

func TestApp_ExternalModeAdvertisesServedOnion(t *testing.T) {
	ctx := context.Background()
	other, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	served := other.Onion

	socks, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = socks.Close() })
	go func() {
		for {
			c, err := socks.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	port, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	freePort := port.Addr().(*net.TCPAddr).Port
	require.NoError(t, port.Close())

	hsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(hsDir, "hostname"), []byte(string(served)+"\n"), 0o600))

	cfg := memoryConfig(t)
	cfg.Tor.Mode = app.TorExternal
	cfg.Tor.SocksAddr = socks.Addr().String()
	cfg.Tor.HiddenServiceDir = hsDir
	cfg.Tor.Port = freePort
	w, err := app.NewWire(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	id, _, err := w.IDs.GenerateIdentity(passphrase)
	require.NoError(t, err)
	require.NotEqual(t, served, id.Onion)

	advertised, err := w.Advertise(id)
	require.NoError(t, err)
	assert.Equal(t, served, advertised.Onion)

	a, err := app.New(w)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Equal(t, served, a.Identity().Onion)

	require.NoError(t, a.Start(ctx))
	onion, err := a.OnionAddress()
	require.NoError(t, err)
	assert.Equal(t, served, onion)
	assert.Equal(t, served, a.Identity().Onion)

	ct, err := a.Registry.Seal(other.XPub, frame.TagText, envelope.Text{ID: "m1", Kind: domain.PayloadText, Text: "hi"})
	require.NoError(t, err)
	env, err := envelope.Open(other, frame.TagText, ct)
	require.NoError(t, err)
	assert.Equal(t, served, env.Onion)
}
