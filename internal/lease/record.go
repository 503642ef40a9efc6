package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no lease is stored under the key.
	ErrNotFound = errors.New("lease not found")
	// ErrCorrupt means the stored value is not a valid lease record.
	ErrCorrupt = errors.New("lease record corrupt")
	// ErrUnavailable means the store could not be reached.
	ErrUnavailable = errors.New("lease store unavailable")
)

// Record is the stored lease. ExpiresAt is Unix milliseconds.
type Record struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Fresh reports whether the lease is still valid at now.
func (r Record) Fresh(now time.Time) bool {
	return r.Owner != "" && r.ExpiresAt > now.UnixMilli()
}

// Expiry returns ExpiresAt as a time.
func (r Record) Expiry() time.Time { return time.UnixMilli(r.ExpiresAt) }

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.Owner == "" || r.ExpiresAt <= 0 {
		return Record{}, fmt.Errorf("%w: missing owner or expiresAt", ErrCorrupt)
	}
	return r, nil
}

// writable reports whether a writer owning rec may replace the stored value
// raw. Absent, corrupt, expired, or self-owned leases are writable.
func writable(raw []byte, found bool, owner string, now time.Time) bool {
	if !found {
		return true
	}
	cur, err := decodeRecord(raw)
	if err != nil {
		return true
	}
	return cur.Owner == owner || !cur.Fresh(now)
}
