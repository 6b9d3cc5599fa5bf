package store

import (
	"context"
	"encoding/json"
	"errors"

	"ochat/internal/domain"
)

const identityKey = "identity"

// ErrNoIdentity is returned when no identity has been created yet.
var ErrNoIdentity = errors.New("no identity; run init first")

// IdentityStore persists the local identity sealed under a passphrase.
type IdentityStore struct {
	kv domain.KeyValueStore
	// scrypt cost parameters; tests lower them.
	n, r, p int
}

// NewIdentityStore returns an IdentityStore on top of kv.
func NewIdentityStore(kv domain.KeyValueStore) *IdentityStore {
	n, r, p := scryptParamsDefault()
	return &IdentityStore{kv: kv, n: n, r: r, p: p}
}

// WithScryptParams overrides the key-derivation cost.
func (s *IdentityStore) WithScryptParams(n, r, p int) *IdentityStore {
	s.n, s.r, s.p = n, r, p
	return s
}

// SaveIdentity encrypts and stores the identity.
func (s *IdentityStore) SaveIdentity(passphrase string, id domain.Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	ct, err := seal(passphrase, identityKey, raw, s.n, s.r, s.p)
	if err != nil {
		return err
	}
	return s.kv.Save(context.Background(), identityKey, ct)
}

// LoadIdentity reads and decrypts the identity.
func (s *IdentityStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	b, ok, err := s.kv.Read(context.Background(), identityKey)
	if err != nil {
		return domain.Identity{}, err
	}
	if !ok {
		return domain.Identity{}, ErrNoIdentity
	}
	pt, err := open(passphrase, identityKey, b)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// HasIdentity reports whether an identity has been stored.
func (s *IdentityStore) HasIdentity() (bool, error) {
	_, ok, err := s.kv.Read(context.Background(), identityKey)
	return ok, err
}

// Compile-time assertion that IdentityStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityStore)(nil)
