package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/hostlive/internal/storage/pebble"
)

// Store holds lease records.
type Store interface {
	// Read returns the record under key, ErrNotFound, ErrCorrupt, or an error
	// wrapping ErrUnavailable.
	Read(ctx context.Context, key string) (Record, error)
	// WriteIfFresh stores rec only when the current lease is absent, corrupt,
	// expired at now, or already owned by rec.Owner. It reports whether the
	// write happened.
	WriteIfFresh(ctx context.Context, key string, rec Record, now time.Time) (bool, error)
}

// MemoryStore is a Store for instances living in one process.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Read(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	raw, ok := s.data[key]
	s.mu.Unlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return decodeRecord(raw)
}

func (s *MemoryStore) WriteIfFresh(_ context.Context, key string, rec Record, now time.Time) (bool, error) {
	b, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, found := s.data[key]
	if !writable(raw, found, rec.Owner, now) {
		return false, nil
	}
	s.data[key] = b
	return true, nil
}

// PebbleStore keeps leases in the shared Pebble database. Pebble locks its
// directory to one process, so a process mutex makes the read-check-write
// atomic for every instance that can reach the store.
type PebbleStore struct {
	mu sync.Mutex
	db *pebblestore.DB
}

// NewPebbleStore binds a store to db.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

func (s *PebbleStore) Read(_ context.Context, key string) (Record, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return decodeRecord(raw)
}

func (s *PebbleStore) WriteIfFresh(_ context.Context, key string, rec Record, now time.Time) (bool, error) {
	b, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get([]byte(key))
	found := err == nil
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !writable(raw, found, rec.Owner, now) {
		return false, nil
	}
	if err := s.db.Set([]byte(key), b); err != nil {
		return false, fmt.Errorf("%w: write lease: %w", ErrUnavailable, err)
	}
	return true, nil
}
