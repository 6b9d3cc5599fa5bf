package store

import (
	"context"
	"fmt"
	"path/filepath"

	"ochat/internal/domain"
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Open returns the key-value backend selected by driver, rooted at home.
// The returned close func releases the backend.
func Open(ctx context.Context, driver, home string) (domain.KeyValueStore, func() error, error) {
	switch driver {
	case DriverSQLite, "":
		kv, err := OpenSQLite(ctx, filepath.Join(home, "ochat.db"))
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case DriverMemory:
		kv, err := OpenSQLite(ctx, ":memory:")
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	case DriverFile:
		kv, err := NewFileKV(home)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
