// Package badger keeps chunks in an embedded Badger key-value store.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"selfvault/pkg/storage"
	"selfvault/pkg/types"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var (
	chunkPrefix = []byte("c/")
	refPrefix   = []byte("r/")
)

type StoreConfig struct {
	Path string
	// InMemory ignores Path and keeps everything in RAM.
	InMemory bool
	Logger   logrus.FieldLogger
}

// Store holds each chunk under c/<hash> and its reference count under
// r/<hash>. Both are updated in one transaction.
type Store struct {
	db  *badger.DB
	log logrus.FieldLogger
}

func NewStore(config StoreConfig) (*Store, error) {
	log := config.Logger
	if log == nil {
		log = logrus.New()
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger store: %w", err)
	}
	log.WithField("path", config.Path).Debug("opened badger chunk store")
	return &Store{db: db, log: log}, nil
}

func chunkKey(hash types.Hash) []byte { return append(append([]byte(nil), chunkPrefix...), hash...) }
func refKey(hash types.Hash) []byte   { return append(append([]byte(nil), refPrefix...), hash...) }

func readCount(txn *badger.Txn, hash types.Hash) (uint64, error) {
	item, err := txn.Get(refKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt reference count for %s", hash.Short())
		}
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}

func writeCount(txn *badger.Txn, hash types.Hash, count uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, count)
	return txn.Set(refKey(hash), buf)
}

// update retries fn while it loses optimistic conflicts with concurrent writers.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Debug("badger transaction conflict, retrying")
	}
}

func (s *Store) Store(ctx context.Context, hash types.Hash, content []byte) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		count, err := readCount(txn, hash)
		if err != nil {
			return err
		}
		if count == 0 {
			if err := txn.Set(chunkKey(hash), content); err != nil {
				return err
			}
		}
		return writeCount(txn, hash, count+1)
	})
}

func (s *Store) Get(ctx context.Context, hash types.Hash) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return data, err
}

func (s *Store) Delete(ctx context.Context, hash types.Hash) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		count, err := readCount(txn, hash)
		if err != nil {
			return err
		}
		switch count {
		case 0:
			return storage.ErrNotFound
		case 1:
			if err := txn.Delete(chunkKey(hash)); err != nil {
				return err
			}
			return txn.Delete(refKey(hash))
		default:
			return writeCount(txn, hash, count-1)
		}
	})
}

func (s *Store) Count(ctx context.Context, hash types.Hash) (int64, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn, hash)
		return err
	})
	return int64(count), err
}

func (s *Store) Has(ctx context.Context, hash types.Hash) (bool, error) {
	count, err := s.Count(ctx, hash)
	return count > 0, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
