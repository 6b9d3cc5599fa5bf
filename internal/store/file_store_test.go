package store_test

import (
	"context"
	"errors"
	"testing"

	"ochat/internal/crypto"
	"ochat/internal/domain"
	"ochat/internal/store"
)

// cheap scrypt parameters keep the tests fast.
func newIdentityStore(t *testing.T, kv domain.KeyValueStore) *store.IdentityStore {
	t.Helper()
	return store.NewIdentityStore(kv).WithScryptParams(1<<10, 8, 1)
}

func newFileKV(t *testing.T) *store.FileKV {
	t.Helper()
	kv, err := store.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	return kv
}

func TestIdentity_SaveLoad_OK(t *testing.T) {
	pass := "pass"
	var ids domain.IdentityStore = newIdentityStore(t, newFileKV(t))

	id, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	if ok, err := ids.HasIdentity(); err != nil || ok {
		t.Fatalf("HasIdentity before save = %v, %v", ok, err)
	}
	if err := ids.SaveIdentity(pass, id); err != nil {
		t.Fatalf("save identity: %v", err)
	}

	got, err := ids.LoadIdentity(pass)
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if got.XPub != id.XPub || got.EdPub != id.EdPub || got.Onion != id.Onion {
		t.Fatalf("mismatch after load")
	}
	if ok, _ := ids.HasIdentity(); !ok {
		t.Fatalf("HasIdentity after save = false")
	}
}

func TestIdentity_WrongPassphrase_Fails(t *testing.T) {
	var ids domain.IdentityStore = newIdentityStore(t, newFileKV(t))

	id := domain.Identity{XPub: domain.X25519Public{1}, XPriv: domain.X25519Private{2}}

	if err := ids.SaveIdentity("correct", id); err != nil {
		t.Fatalf("save identity: %v", err)
	}
	if _, err := ids.LoadIdentity("wrong"); !errors.Is(err, store.ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestIdentity_Missing(t *testing.T) {
	ids := newIdentityStore(t, newFileKV(t))
	if _, err := ids.LoadIdentity("x"); !errors.Is(err, store.ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestFileKV_KeysWithSlashes(t *testing.T) {
	ctx := context.Background()
	kv := newFileKV(t)

	if err := kv.Save(ctx, "history/abc", []byte("1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := kv.Save(ctx, "contact/abc", []byte("2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	keys, err := kv.List(ctx, "history/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "history/abc" {
		t.Fatalf("list = %v", keys)
	}
}
