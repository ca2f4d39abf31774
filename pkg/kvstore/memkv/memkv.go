// Package memkv is an in-memory, ordered implementation of kvstore.KV,
// used by the sync engine's tests as a fast stand-in for an on-disk store.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/crdtsync/pkg/kvstore"
)

// Store is a sorted, mutex-guarded map satisfying kvstore.KV.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[string(key)] = v
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Batch() kvstore.Batch {
	return &batch{store: s}
}

type batchOp struct {
	key    string
	value  []byte
	delete bool
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (b *batch) Put(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, batchOp{key: string(key), value: v})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: string(key), delete: true})
}

func (b *batch) Write(_ context.Context) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.store.data, op.key)
			continue
		}
		b.store.data[op.key] = op.value
	}
	return nil
}

func (s *Store) Iterate(_ context.Context, r kvstore.Range) (kvstore.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if r.GTE != nil && k < string(r.GTE) {
			continue
		}
		if r.LT != nil && k >= string(r.LT) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if r.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	entries := make([]entry, len(keys))
	for i, k := range keys {
		v := s.data[k]
		vc := make([]byte, len(v))
		copy(vc, v)
		entries[i] = entry{key: []byte(k), value: vc}
	}
	return &iterator{entries: entries, idx: -1}, nil
}

type entry struct {
	key   []byte
	value []byte
}

type iterator struct {
	entries []entry
	idx     int
}

func (it *iterator) Next(_ context.Context) bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *iterator) Key() []byte {
	if it.idx < 0 || it.idx >= len(it.entries) {
		return nil
	}
	return it.entries[it.idx].key
}

func (it *iterator) Value() []byte {
	if it.idx < 0 || it.idx >= len(it.entries) {
		return nil
	}
	return it.entries[it.idx].value
}

func (it *iterator) Err() error   { return nil }
func (it *iterator) Close() error { return nil }
