package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rzbill/hostlive/internal/event"
)

// Kind distinguishes fanout payloads.
type Kind string

const (
	KindEvents    Kind = "events"
	KindHeartbeat Kind = "heartbeat"
)

// Message is one broadcast.
type Message struct {
	Kind    Kind          `json:"kind"`
	Channel string        `json:"channel"`
	Owner   string        `json:"owner"`
	At      time.Time     `json:"at"`
	Events  []event.Event `json:"events,omitempty"`
	Cursor  string        `json:"cursor,omitempty"`
}

// Topic publishes and subscribes to keyed broadcasts.
type Topic interface {
	Publish(ctx context.Context, key string, msg Message) error
	// Subscribe returns a channel of messages for key and a cancel function
	// that closes it. The channel is also closed when ctx is done.
	Subscribe(ctx context.Context, key string) (<-chan Message, func(), error)
}

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 64

func encode(m Message) ([]byte, error) { return json.Marshal(m) }

func decode(b []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(b, &m)
	return m, err
}
