package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/hostlive/internal/event"
	pebblestore "github.com/rzbill/hostlive/internal/storage/pebble"
)

// Store persists cursors per scope.
type Store interface {
	// Load returns the stored cursor or "" when none exists.
	Load(ctx context.Context, scope event.Scope) (string, error)
	Save(ctx context.Context, scope event.Scope, cursor string) error
	Reset(ctx context.Context, scope event.Scope) error
	// ResetChannel drops cursors for every filter of a channel.
	ResetChannel(ctx context.Context, channel string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[event.Scope]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[event.Scope]string)}
}

func (s *MemoryStore) Load(_ context.Context, scope event.Scope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[scope], nil
}

func (s *MemoryStore) Save(_ context.Context, scope event.Scope, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor == "" {
		delete(s.cursors, scope)
		return nil
	}
	s.cursors[scope] = cursor
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, scope event.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, scope)
	return nil
}

func (s *MemoryStore) ResetChannel(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc := range s.cursors {
		if sc.Channel == channel {
			delete(s.cursors, sc)
		}
	}
	return nil
}

// PebbleStore persists cursors in Pebble so a restarted process resumes
// from the last adopted position.
type PebbleStore struct {
	db      *pebblestore.DB
	session string
}

// NewPebbleStore binds a store to db under the given session hash.
func NewPebbleStore(db *pebblestore.DB, sessionHash string) *PebbleStore {
	return &PebbleStore{db: db, session: sessionHash}
}

func (s *PebbleStore) Load(_ context.Context, scope event.Scope) (string, error) {
	b, err := s.db.Get(KeyCursor(s.session, scope))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor %s: %w", scope, err)
	}
	return string(b), nil
}

func (s *PebbleStore) Save(_ context.Context, scope event.Scope, cursor string) error {
	if cursor == "" {
		return s.db.Delete(KeyCursor(s.session, scope))
	}
	if err := s.db.Set(KeyCursor(s.session, scope), []byte(cursor)); err != nil {
		return fmt.Errorf("save cursor %s: %w", scope, err)
	}
	return nil
}

func (s *PebbleStore) Reset(_ context.Context, scope event.Scope) error {
	return s.db.Delete(KeyCursor(s.session, scope))
}

func (s *PebbleStore) ResetChannel(_ context.Context, channel string) error {
	return s.db.DeletePrefix(KeyChannelPrefix(s.session, channel))
}

// List returns every stored cursor of the session keyed by scope.
func (s *PebbleStore) List() (map[event.Scope]string, error) {
	prefix := keySessionPrefix(s.session)
	out := make(map[event.Scope]string)
	err := s.db.ScanPrefix(prefix, func(k, v []byte) bool {
		if sc, ok := parseScope(k[len(prefix):]); ok {
			out[sc] = string(v)
		}
		return true
	})
	return out, err
}
