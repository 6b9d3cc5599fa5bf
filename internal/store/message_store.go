package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ochat/internal/domain"
)

const (
	historyPrefix = "history/"
	msgRefPrefix  = "msgref/"
)

// ErrMessageNotFound is returned when updating a message that is not stored.
var ErrMessageNotFound = errors.New("message not found")

// MessageStore keeps each contact's history as one ordered JSON list, plus a
// message-id index so messages can be found without knowing the contact.
type MessageStore struct {
	kv domain.KeyValueStore
	mu sync.Mutex
}

// NewMessageStore returns a MessageStore on top of kv.
func NewMessageStore(kv domain.KeyValueStore) *MessageStore { return &MessageStore{kv: kv} }

// AppendMessage adds msg to the end of its contact's history.
// Appending an id that already exists replaces the stored entry in place.
func (s *MessageStore) AppendMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, err := s.load(ctx, msg.Peer)
	if err != nil {
		return err
	}
	if i := indexOf(hist, msg.ID); i >= 0 {
		hist[i] = msg
	} else {
		hist = append(hist, msg)
	}
	if err := s.kv.Save(ctx, msgRefPrefix+msg.ID.String(), []byte(msg.Peer)); err != nil {
		return err
	}
	return s.save(ctx, msg.Peer, hist)
}

// UpdateMessage replaces an existing entry, keeping its position.
func (s *MessageStore) UpdateMessage(ctx context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, err := s.load(ctx, msg.Peer)
	if err != nil {
		return err
	}
	i := indexOf(hist, msg.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, msg.ID)
	}
	hist[i] = msg
	return s.save(ctx, msg.Peer, hist)
}

// LoadMessage finds a message by id.
func (s *MessageStore) LoadMessage(ctx context.Context, id domain.MessageID) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok, err := s.kv.Read(ctx, msgRefPrefix+id.String())
	if err != nil || !ok {
		return domain.Message{}, false, err
	}
	hist, err := s.load(ctx, domain.PeerID(ref))
	if err != nil {
		return domain.Message{}, false, err
	}
	if i := indexOf(hist, id); i >= 0 {
		return hist[i], true, nil
	}
	return domain.Message{}, false, nil
}

// ListMessages returns a contact's history oldest first.
func (s *MessageStore) ListMessages(ctx context.Context, peer domain.PeerID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, peer)
}

// DeleteMessage removes one message; a missing id is not an error.
func (s *MessageStore) DeleteMessage(ctx context.Context, peer domain.PeerID, id domain.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, err := s.load(ctx, peer)
	if err != nil {
		return err
	}
	i := indexOf(hist, id)
	if i < 0 {
		return nil
	}
	hist = append(hist[:i], hist[i+1:]...)
	if err := s.kv.Delete(ctx, msgRefPrefix+id.String()); err != nil {
		return err
	}
	return s.save(ctx, peer, hist)
}

// DeleteHistory removes a contact's whole history.
func (s *MessageStore) DeleteHistory(ctx context.Context, peer domain.PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, err := s.load(ctx, peer)
	if err != nil {
		return err
	}
	for _, m := range hist {
		if err := s.kv.Delete(ctx, msgRefPrefix+m.ID.String()); err != nil {
			return err
		}
	}
	return s.kv.Delete(ctx, historyPrefix+peer.String())
}

func (s *MessageStore) load(ctx context.Context, peer domain.PeerID) ([]domain.Message, error) {
	b, ok, err := s.kv.Read(ctx, historyPrefix+peer.String())
	if err != nil || !ok {
		return nil, err
	}
	var hist []domain.Message
	if err := json.Unmarshal(b, &hist); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", peer.Short(), err)
	}
	return hist, nil
}

func (s *MessageStore) save(ctx context.Context, peer domain.PeerID, hist []domain.Message) error {
	b, err := json.Marshal(hist)
	if err != nil {
		return err
	}
	return s.kv.Save(ctx, historyPrefix+peer.String(), b)
}

func indexOf(hist []domain.Message, id domain.MessageID) int {
	for i := range hist {
		if hist[i].ID == id {
			return i
		}
	}
	return -1
}

// Compile-time assertion that MessageStore implements domain.MessageStore.
var _ domain.MessageStore = (*MessageStore)(nil)
