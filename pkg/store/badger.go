package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const badgerLogPrefix = "store:badger"

// keyPrefix namespaces settings inside the badger keyspace.
const keyPrefix = "settings:"

// BadgerBackend persists settings in a device-local badger database.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadgerBackend opens (or creates) the badger database at path.
// An empty path opens an in-memory database.
func OpenBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open %q: %w", badgerLogPrefix, path, err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (b *BadgerBackend) Put(_ context.Context, key, value string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), []byte(value))
	})
}

func (b *BadgerBackend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

func (b *BadgerBackend) Ping(_ context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

func (b *BadgerBackend) Close() error { return b.db.Close() }
