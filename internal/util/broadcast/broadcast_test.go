package broadcast_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/util/broadcast"
)

func TestHub_FanOut(t *testing.T) {
	h := broadcast.New[int]()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelB()

	h.Publish(1)
	assert.Equal(t, 1, <-a)
	assert.Equal(t, 1, <-b)

	cancelA()
	cancelA()
	_, ok := <-a
	assert.False(t, ok)

	h.Publish(2)
	assert.Equal(t, 2, <-b)
}

func TestHub_FullSubscriberDoesNotBlock(t *testing.T) {
	h := broadcast.New[string]()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish("a")
	h.Publish("b")
	assert.Equal(t, uint64(1), h.Dropped())
	assert.Equal(t, "a", <-ch)
}

func TestHub_Close(t *testing.T) {
	h := broadcast.New[int]()
	ch, cancel := h.Subscribe(0)
	h.Close()
	_, ok := <-ch
	require.False(t, ok)
	cancel()

	late, _ := h.Subscribe(0)
	_, ok = <-late
	assert.False(t, ok)
	h.Publish(3)
}
