// Package boltkv implements kvstore.KV on top of go.etcd.io/bbolt, an
// embedded B+tree storage engine. bbolt orders keys lexicographically
// on their raw bytes and its cursor seek gives exactly the half-open
// range scan kvstore.Range needs, so this adapter is a thin translation
// layer rather than a new storage format.
package boltkv

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/crdtsync/pkg/kvstore"
)

var metaBucket = []byte("crdtsync_meta")

// Store adapts a single bbolt bucket to kvstore.KV.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database file under dataDir
// dedicated to sync metadata, distinct from any user-data store the host
// keeps in the same directory.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "crdtsync.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("crdtsync: open bbolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("crdtsync: create metadata bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(key)
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, err
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(key, value)
	})
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Delete(key)
	})
}

func (s *Store) Batch() kvstore.Batch {
	return &batch{db: s.db}
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}

type batch struct {
	db  *bolt.DB
	ops []op
}

func (b *batch) Put(key, value []byte) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, op{key: k, value: v})
}

func (b *batch) Delete(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, op{key: k, delete: true})
}

// Write commits every accumulated put/delete in a single bbolt
// transaction, giving the all-or-nothing visibility the engine's crash
// safety argument depends on.
func (b *batch) Write(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(metaBucket)
		for _, o := range b.ops {
			if o.delete {
				if err := bkt.Delete(o.key); err != nil {
					return err
				}
				continue
			}
			if err := bkt.Put(o.key, o.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Iterate(_ context.Context, r kvstore.Range) (kvstore.Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	c := tx.Bucket(metaBucket).Cursor()
	return &iterator{tx: tx, cursor: c, r: r}, nil
}

type iterator struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	r       kvstore.Range
	key     []byte
	value   []byte
	started bool
}

func (it *iterator) Next(_ context.Context) bool {
	if it.r.Reverse {
		if !it.started {
			it.started = true
			if it.r.LT != nil {
				k, v := it.cursor.Seek(it.r.LT)
				if k == nil {
					it.key, it.value = it.cursor.Last()
				} else {
					it.key, it.value = it.cursor.Prev()
				}
			} else {
				it.key, it.value = it.cursor.Last()
			}
		} else {
			it.key, it.value = it.cursor.Prev()
		}
	} else {
		if !it.started {
			it.started = true
			if it.r.GTE != nil {
				it.key, it.value = it.cursor.Seek(it.r.GTE)
			} else {
				it.key, it.value = it.cursor.First()
			}
		} else {
			it.key, it.value = it.cursor.Next()
		}
	}

	if it.key == nil {
		return false
	}
	if it.r.Reverse {
		if it.r.GTE != nil && bytes.Compare(it.key, it.r.GTE) < 0 {
			it.key = nil
			return false
		}
	} else {
		if it.r.LT != nil && bytes.Compare(it.key, it.r.LT) >= 0 {
			it.key = nil
			return false
		}
	}
	return true
}

func (it *iterator) Key() []byte   { return it.key }
func (it *iterator) Value() []byte { return it.value }
func (it *iterator) Err() error    { return nil }
func (it *iterator) Close() error  { return it.tx.Rollback() }
