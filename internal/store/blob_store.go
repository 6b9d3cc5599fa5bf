package store

import (
	"context"

	"ochat/internal/domain"
)

const blobPrefix = "blob/"

// BlobStore keeps received file contents in the key-value store.
type BlobStore struct {
	kv domain.KeyValueStore
}

// NewBlobStore returns a BlobStore on top of kv.
func NewBlobStore(kv domain.KeyValueStore) *BlobStore { return &BlobStore{kv: kv} }

func (s *BlobStore) SaveBlob(ctx context.Context, id domain.TransferID, data []byte) error {
	return s.kv.Save(ctx, blobPrefix+id.String(), data)
}

func (s *BlobStore) LoadBlob(ctx context.Context, id domain.TransferID) ([]byte, bool, error) {
	return s.kv.Read(ctx, blobPrefix+id.String())
}

func (s *BlobStore) DeleteBlob(ctx context.Context, id domain.TransferID) error {
	return s.kv.Delete(ctx, blobPrefix+id.String())
}

var _ domain.BlobStore = (*BlobStore)(nil)
