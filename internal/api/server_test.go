package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ochat/internal/api"
	"ochat/internal/app"
	"ochat/internal/domain"
	"ochat/internal/transport"
)

const passphrase = "Correct-Horse-42!"

type node struct {
	app    *app.App
	client *api.Client
}

func newNode(t *testing.T, hub *transport.MemoryHub, name string) *node {
	t.Helper()
	ctx := context.Background()
	log := zaptest.NewLogger(t).Named(name)

	v := viper.New()
	v.Set("home", t.TempDir())
	v.Set("tor.mode", app.TorMemory)
	v.Set("storage.driver", "memory")
	v.Set("passphrase", passphrase)
	v.Set("display_name", name)
	cfg, err := app.LoadConfig(v, nil)
	require.NoError(t, err)

	w, err := app.NewWire(ctx, cfg, log)
	require.NoError(t, err)
	w.Hub = hub
	_, _, err = w.IDs.GenerateIdentity(passphrase)
	require.NoError(t, err)
	a, err := app.New(w)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(a, log).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return &node{app: a, client: api.NewClient(srv.URL)}
}

func apiStatus(err error) int {
	var e *api.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func TestAPI_ChatFlow(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewMemoryHub()
	alice, bob := newNode(t, hub, "alice"), newNode(t, hub, "bob")

	st, err := alice.client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)

	for _, n := range []*node{alice, bob} {
		require.NoError(t, n.client.Start(ctx))
	}
	st, err = alice.client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, alice.app.Identity().Onion, st.Onion)

	bobID := bob.app.Identity()
	aliceID := alice.app.Identity()
	c, err := alice.client.RequestChat(ctx, api.ChatRequest{
		PublicKey: bobID.PublicKey.Hex(),
		Onion:     bobID.Onion.String(),
		Name:      "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContactRequested, c.Status)

	require.Eventually(t, func() bool {
		contacts, err := bob.client.Contacts(ctx)
		return err == nil && len(contacts) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, bob.client.Confirm(ctx, aliceID.PublicKey.Hex()))

	require.Eventually(t, func() bool {
		contacts, err := alice.client.Contacts(ctx)
		return err == nil && len(contacts) == 1 && contacts[0].Status == domain.ContactConfirmed
	}, 3*time.Second, 10*time.Millisecond)

	id, err := alice.client.Send(ctx, bobID.PublicKey.Hex(), api.SendRequest{Text: "hello"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		hist, err := bob.client.History(ctx, aliceID.PublicKey.Hex())
		return err == nil && len(hist) == 1 && hist[0].ID == id
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.client.RemoveMessage(ctx, bobID.PublicKey.Hex(), id))
	hist, err := alice.client.History(ctx, bobID.PublicKey.Hex())
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, transport.NewMemoryHub(), "alice")
	stranger := "0000000000000000000000000000000000000000000000000000000000000001"

	_, err := n.client.Send(ctx, "not-a-key", api.SendRequest{Text: "x"})
	assert.Equal(t, http.StatusBadRequest, apiStatus(err))

	_, err = n.client.Send(ctx, stranger, api.SendRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, apiStatus(err))

	err = n.client.Confirm(ctx, stranger)
	assert.Equal(t, http.StatusNotFound, apiStatus(err))

	_, err = n.client.RequestChat(ctx, api.ChatRequest{PublicKey: stranger, Onion: "nope"})
	assert.Equal(t, http.StatusBadRequest, apiStatus(err))

	_, err = n.client.File(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, apiStatus(err))
}

func TestAPI_EventsStream(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, transport.NewMemoryHub(), "alice")

	conn, err := n.client.Events(ctx)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; keep starting until
	// the stream reports it.
	got := make(chan api.Notification, 16)
	go func() {
		for {
			var note api.Notification
			if err := conn.ReadJSON(&note); err != nil {
				close(got)
				return
			}
			got <- note
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, n.client.Stop(ctx))
		require.NoError(t, n.client.Start(ctx))
		select {
		case note, ok := <-got:
			require.True(t, ok)
			assert.Equal(t, "server", note.Stream)
			require.NotNil(t, note.Server)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("no notification on the event stream")
		}
	}
}
