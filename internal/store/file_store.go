package store

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ochat/internal/domain"
)

const kvDir = "kv"

// FileKV is a KeyValueStore that keeps one file per key under dir/kv.
//
// Keys are path-escaped into file names, so any key is accepted. Writes go
// through a temp file and rename.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

// NewFileKV returns a FileKV rooted at dir, creating dir/kv if needed.
func NewFileKV(dir string) (*FileKV, error) {
	root := filepath.Join(dir, kvDir)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &FileKV{dir: root}, nil
}

// Save writes value under key, replacing any previous value.
func (s *FileKV) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeFile(s.path(key), value, 0o600)
}

// Read returns the value under key; ok is false when it does not exist.
func (s *FileKV) Read(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return readFile(s.path(key))
}

// Delete removes key; deleting a missing key is not an error.
func (s *FileKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the keys starting with prefix in lexical order.
func (s *FileKV) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileKV) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key))
}

// Compile-time assertion that FileKV implements domain.KeyValueStore.
var _ domain.KeyValueStore = (*FileKV)(nil)
