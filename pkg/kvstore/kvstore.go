// Package kvstore defines the ordered key-value store contract the sync
// engine is built on. The engine never assumes a concrete backend; it only
// requires lexicographic byte ordering and all-or-nothing batch visibility.
package kvstore

import "context"

// KV is the store contract consumed by the core. Implementations must
// order keys lexicographically on their raw bytes and make a successful
// Batch.Write's writes visible to later reads on the same KV.
type KV interface {
	// Get returns the value for key, or (nil, nil) if key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Batch returns a handle accumulating writes for atomic commit.
	Batch() Batch

	// Iterate returns an ordered, half-open range scan [r.GTE, r.LT).
	Iterate(ctx context.Context, r Range) (Iterator, error)

	// Close releases any resources held by the store.
	Close() error
}

// Batch accumulates puts and deletes for one atomic write. Visibility of
// a batch to later reads is all-or-nothing.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	// Write commits the batch. After Write returns successfully, every
	// put/delete in the batch is visible to subsequent reads.
	Write(ctx context.Context) error
}

// Range describes a half-open [GTE, LT) scan. A nil LT means "no upper
// bound"; a nil GTE means "from the start of the keyspace".
type Range struct {
	GTE     []byte
	LT      []byte
	Reverse bool
}

// Iterator walks a Range in key order (descending if Range.Reverse).
type Iterator interface {
	// Next advances the iterator and reports whether a value is available.
	Next(ctx context.Context) bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// PrefixUpperBound returns the lexicographically smallest key that is
// greater than every key with the given prefix, by incrementing the last
// byte of prefix with carry. It returns nil if prefix is all 0xFF bytes
// (an unbounded upper edge, meaning "no upper bound").
func PrefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
