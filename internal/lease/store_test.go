package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	pebblestore "github.com/rzbill/hostlive/internal/storage/pebble"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func newPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPebbleStore(db)
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	const key = "hostlive/lease/abc/finance/"

	if _, err := s.Read(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read empty: %v", err)
	}

	a := Record{Owner: "a", ExpiresAt: t0.Add(time.Second).UnixMilli()}
	if ok, err := s.WriteIfFresh(ctx, key, a, t0); err != nil || !ok {
		t.Fatalf("first write ok=%v err=%v", ok, err)
	}
	got, err := s.Read(ctx, key)
	if err != nil || got != a {
		t.Fatalf("read = %+v, %v", got, err)
	}

	b := Record{Owner: "b", ExpiresAt: t0.Add(2 * time.Second).UnixMilli()}
	if ok, err := s.WriteIfFresh(ctx, key, b, t0.Add(500*time.Millisecond)); err != nil || ok {
		t.Fatalf("write over fresh lease ok=%v err=%v", ok, err)
	}

	a2 := Record{Owner: "a", ExpiresAt: t0.Add(3 * time.Second).UnixMilli()}
	if ok, err := s.WriteIfFresh(ctx, key, a2, t0.Add(500*time.Millisecond)); err != nil || !ok {
		t.Fatalf("owner renew ok=%v err=%v", ok, err)
	}

	later := t0.Add(4 * time.Second)
	b2 := Record{Owner: "b", ExpiresAt: later.Add(time.Second).UnixMilli()}
	if ok, err := s.WriteIfFresh(ctx, key, b2, later); err != nil || !ok {
		t.Fatalf("takeover of expired lease ok=%v err=%v", ok, err)
	}
	if got, _ := s.Read(ctx, key); got.Owner != "b" {
		t.Fatalf("owner after takeover = %q", got.Owner)
	}
}

func TestMemoryStoreContract(t *testing.T) { storeContract(t, NewMemoryStore()) }
func TestPebbleStoreContract(t *testing.T) { storeContract(t, newPebbleStore(t)) }

func TestRedisStoreContract(t *testing.T) {
	s, _ := newRedisStore(t)
	storeContract(t, s)
}

func TestCorruptLeaseIsWritable(t *testing.T) {
	ctx := context.Background()
	const key = "k"

	mem := NewMemoryStore()
	mem.data[key] = []byte("{not json")
	if _, err := mem.Read(ctx, key); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("memory read corrupt: %v", err)
	}
	if ok, _ := mem.WriteIfFresh(ctx, key, Record{Owner: "a", ExpiresAt: t0.Add(time.Second).UnixMilli()}, t0); !ok {
		t.Fatalf("memory: corrupt lease not overwritten")
	}

	rs, mr := newRedisStore(t)
	if err := mr.Set(key, `{"owner":""}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := rs.Read(ctx, key); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("redis read corrupt: %v", err)
	}
	if ok, err := rs.WriteIfFresh(ctx, key, Record{Owner: "a", ExpiresAt: t0.Add(time.Second).UnixMilli()}, t0); err != nil || !ok {
		t.Fatalf("redis: corrupt lease not overwritten ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()
	if _, err := s.Read(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("read err = %v", err)
	}
	if _, err := s.WriteIfFresh(context.Background(), "k", Record{Owner: "a", ExpiresAt: 1}, t0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("write err = %v", err)
	}
}
