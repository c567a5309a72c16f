package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var _ OptionsRepository = (*BadgerOptionsRepo)(nil)

const badgerUpdateAttempts = 5

// BadgerOptionsRepo keeps the options record in an embedded Badger store.
type BadgerOptionsRepo struct {
	db  *badger.DB
	key []byte
}

// OpenBadger opens a Badger store at dir. An empty dir opens an in-memory store.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func NewBadgerOptionsRepo(db *badger.DB, name string) *BadgerOptionsRepo {
	return &BadgerOptionsRepo{db: db, key: []byte("options:" + name)}
}

func (r *BadgerOptionsRepo) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record []byte
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = r.get(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	return record, nil
}

func (r *BadgerOptionsRepo) Write(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, record)
	}); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	return nil
}

// Update retries on transaction conflicts so that concurrent callers
// serialize. fn may therefore run more than once.
func (r *BadgerOptionsRepo) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	var err error
	for attempt := 0; attempt < badgerUpdateAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = r.db.Update(func(txn *badger.Txn) error {
			current, err := r.get(txn)
			if err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil || next == nil {
				return err
			}
			return txn.Set(r.key, next)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("update options: %w", err)
}

func (r *BadgerOptionsRepo) get(txn *badger.Txn) ([]byte, error) {
	item, err := txn.Get(r.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
