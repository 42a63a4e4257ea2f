// Package storage is the local, non-secret key-value persistence of the
// wallet: the credential handle cache, the wallet record and preferences.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// KV is the plain key-value capability the wallet needs. Values are never
// secret.
type KV interface {
	// Get reports found=false (and no error) for a missing key.
	Get(key string) (value []byte, found bool, err error)
	Set(key string, value []byte) error
	Delete(key string) error
}

type DB struct {
	db *leveldb.DB
}

var _ KV = (*DB)(nil)

// Open opens (or creates) a leveldb database under dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dir), constants.DirectoryPerm); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(dir), err)
	}

	db, err := leveldb.OpenFile(dir, nil)
	if lvlerrors.IsCorrupted(err) {
		log.Warn("store corrupted, attempting recovery", "path", dir, "error", err)
		db, err = leveldb.RecoverFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}
	return &DB{db: db}, nil
}

// NewMemory returns a store that lives only in process memory.
func NewMemory() (*DB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Get(key string) ([]byte, bool, error) {
	v, err := d.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (d *DB) Set(key string, value []byte) error {
	if err := d.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (d *DB) Delete(key string) error {
	if err := d.db.Delete([]byte(key), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
