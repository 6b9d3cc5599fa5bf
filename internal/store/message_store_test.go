package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/domain"
	"ochat/internal/store"
)

func msg(peer domain.PeerID, id string) domain.Message {
	return domain.Message{
		ID:        domain.MessageID(id),
		Peer:      peer,
		Direction: domain.DirectionOwn,
		Payload:   domain.Payload{Kind: domain.PayloadText, Text: id},
		Status:    domain.StatusInProgress,
		CreatedAt: time.Now(),
	}
}

func TestMessageStore_OrderAndUpdate(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ms := store.NewMessageStore(kv)
			peer := domain.PeerID("aa")

			for _, id := range []string{"m1", "m2", "m3"} {
				require.NoError(t, ms.AppendMessage(ctx, msg(peer, id)))
			}

			m2 := msg(peer, "m2")
			m2.Status = domain.StatusDelivered
			require.NoError(t, ms.UpdateMessage(ctx, m2))

			hist, err := ms.ListMessages(ctx, peer)
			require.NoError(t, err)
			require.Len(t, hist, 3)
			assert.Equal(t, domain.MessageID("m1"), hist[0].ID)
			assert.Equal(t, domain.StatusDelivered, hist[1].Status)
			assert.Equal(t, domain.MessageID("m3"), hist[2].ID)

			got, ok, err := ms.LoadMessage(ctx, "m2")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, peer, got.Peer)

			// Re-appending an existing id replaces it instead of duplicating.
			require.NoError(t, ms.AppendMessage(ctx, msg(peer, "m1")))
			hist, err = ms.ListMessages(ctx, peer)
			require.NoError(t, err)
			assert.Len(t, hist, 3)

			require.NoError(t, ms.DeleteMessage(ctx, peer, "m1"))
			_, ok, err = ms.LoadMessage(ctx, "m1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, ms.DeleteHistory(ctx, peer))
			hist, err = ms.ListMessages(ctx, peer)
			require.NoError(t, err)
			assert.Empty(t, hist)
		})
	}
}

func TestMessageStore_UpdateMissing(t *testing.T) {
	ms := store.NewMessageStore(backends(t)["sqlite"])
	err := ms.UpdateMessage(context.Background(), msg("bb", "nope"))
	assert.ErrorIs(t, err, store.ErrMessageNotFound)
}

func TestContactStore_CRUD(t *testing.T) {
	ctx := context.Background()
	cs := store.NewContactStore(backends(t)["file"])

	c := domain.Contact{
		PublicKey: domain.X25519Public{0xAA},
		Onion:     "abc.onion",
		Status:    domain.ContactRequested,
		Rules:     domain.DefaultChatRules(),
	}
	require.NoError(t, cs.SaveContact(ctx, c))

	got, ok, err := cs.LoadContact(ctx, c.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.Onion, got.Onion)
	assert.True(t, got.Rules.TypingIndicator)

	list, err := cs.ListContacts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, cs.DeleteContact(ctx, c.ID()))
	_, ok, err = cs.LoadContact(ctx, c.ID())
	require.NoError(t, err)
	assert.False(t, ok)
}
