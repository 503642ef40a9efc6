// Package event defines the change-notification records delivered by the
// subscribe endpoint and the scope they are delivered under.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Event is one server-side mutation notification. IDs are unique and ordered
// within a channel; consumers must tolerate redelivery of the same ID.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	EntityID  string         `json:"entityId"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Filter narrows a channel subscription, e.g. {"propertyId": "42"}.
type Filter map[string]string

// ErrReservedFilterKey is returned for filter keys that collide with query
// parameters of the subscribe request.
var ErrReservedFilterKey = errors.New("reserved filter key")

var reservedFilterKeys = map[string]struct{}{"cursor": {}}

// Validate rejects empty and reserved keys.
func (f Filter) Validate() error {
	for k := range f {
		if k == "" {
			return errors.New("empty filter key")
		}
		if _, ok := reservedFilterKeys[k]; ok {
			return fmt.Errorf("%w: %q", ErrReservedFilterKey, k)
		}
	}
	return nil
}

// Key returns the canonical form: sorted k=v pairs joined by '&'.
func (f Filter) Key() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f[k])
	}
	return b.String()
}

// Clone returns an independent copy.
func (f Filter) Clone() Filter {
	if f == nil {
		return nil
	}
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Scope identifies one (channel, filter) subscription.
type Scope struct {
	Channel string
	Filter  string
}

// NewScope builds the scope for channel under filter.
func NewScope(channel string, filter Filter) Scope {
	return Scope{Channel: channel, Filter: filter.Key()}
}

func (s Scope) String() string {
	if s.Filter == "" {
		return s.Channel
	}
	return s.Channel + "?" + s.Filter
}

// SessionHash derives a stable, non-reversible identifier for a session
// token so that raw tokens never end up in store keys or topic names.
func SessionHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// LeaseKey is the lease store key for (session, scope).
func LeaseKey(sessionHash string, s Scope) string {
	return scopedKey("hostlive/lease/", sessionHash, s)
}

// TopicKey is the fanout topic name for (session, scope).
func TopicKey(sessionHash string, s Scope) string {
	return scopedKey("hostlive/fanout/", sessionHash, s)
}

func scopedKey(prefix, sessionHash string, s Scope) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(sessionHash) + len(s.Channel) + len(s.Filter) + 2)
	b.WriteString(prefix)
	b.WriteString(sessionHash)
	b.WriteByte('/')
	b.WriteString(s.Channel)
	b.WriteByte('/')
	b.WriteString(s.Filter)
	return b.String()
}
