package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// writeIfFresh replaces KEYS[1] with ARGV[1] unless it holds a valid lease
// owned by someone other than ARGV[2] that expires after ARGV[3].
// ARGV[4] is the key TTL in milliseconds.
var writeIfFresh = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, rec = pcall(cjson.decode, cur)
  if ok and type(rec) == 'table' and type(rec.owner) == 'string' and rec.owner ~= '' then
    local exp = tonumber(rec.expiresAt)
    if exp and rec.owner ~= ARGV[2] and exp > tonumber(ARGV[3]) then
      return 0
    end
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return 1
`)

// RedisStore keeps leases in Redis so instances in different processes can
// elect a single poller.
type RedisStore struct {
	client redis.UniversalClient
	// Retain keeps an expired record readable for this long after expiry.
	Retain time.Duration
}

// NewRedisStore binds a store to client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, Retain: time.Minute}
}

func (s *RedisStore) Read(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return decodeRecord(raw)
}

func (s *RedisStore) WriteIfFresh(ctx context.Context, key string, rec Record, now time.Time) (bool, error) {
	b, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	px := rec.ExpiresAt - now.UnixMilli() + s.Retain.Milliseconds()
	if px <= 0 {
		px = 1
	}
	n, err := writeIfFresh.Run(ctx, s.client, []string{key}, string(b), rec.Owner, now.UnixMilli(), px).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return n == 1, nil
}
