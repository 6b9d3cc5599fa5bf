package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ochat/internal/domain"
)

const contactPrefix = "contact/"

// ContactStore keeps one JSON record per contact.
type ContactStore struct {
	kv domain.KeyValueStore
}

// NewContactStore returns a ContactStore on top of kv.
func NewContactStore(kv domain.KeyValueStore) *ContactStore { return &ContactStore{kv: kv} }

// SaveContact inserts or replaces a contact.
func (s *ContactStore) SaveContact(ctx context.Context, c domain.Contact) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Save(ctx, contactPrefix+c.ID().String(), b)
}

// LoadContact returns the contact for peer, if any.
func (s *ContactStore) LoadContact(ctx context.Context, peer domain.PeerID) (domain.Contact, bool, error) {
	b, ok, err := s.kv.Read(ctx, contactPrefix+peer.String())
	if err != nil || !ok {
		return domain.Contact{}, false, err
	}
	var c domain.Contact
	if err := json.Unmarshal(b, &c); err != nil {
		return domain.Contact{}, false, fmt.Errorf("decode contact %s: %w", peer.Short(), err)
	}
	return c, true, nil
}

// ListContacts returns every stored contact ordered by peer id.
func (s *ContactStore) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	keys, err := s.kv.List(ctx, contactPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Contact, 0, len(keys))
	for _, k := range keys {
		c, ok, err := s.LoadContact(ctx, domain.PeerID(strings.TrimPrefix(k, contactPrefix)))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteContact removes the contact record.
func (s *ContactStore) DeleteContact(ctx context.Context, peer domain.PeerID) error {
	return s.kv.Delete(ctx, contactPrefix+peer.String())
}

// Compile-time assertion that ContactStore implements domain.ContactStore.
var _ domain.ContactStore = (*ContactStore)(nil)
