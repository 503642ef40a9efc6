package cursor

import (
	"bytes"

	"github.com/rzbill/hostlive/internal/event"
)

// Keyspace helpers for Pebble keys.
//
// Layout: cursor/{session}/{channel}/{filterKey}
// Channel names never contain '/', filter keys may.

var (
	sep          = byte('/')
	cursorPrefix = []byte("cursor/")
)

func keySessionPrefix(session string) []byte {
	k := make([]byte, 0, len(cursorPrefix)+len(session)+1)
	k = append(k, cursorPrefix...)
	k = append(k, session...)
	k = append(k, sep)
	return k
}

// KeyChannelPrefix covers every filter of channel.
func KeyChannelPrefix(session, channel string) []byte {
	k := keySessionPrefix(session)
	k = append(k, channel...)
	k = append(k, sep)
	return k
}

// KeyCursor builds the cursor key for a scope.
func KeyCursor(session string, scope event.Scope) []byte {
	k := KeyChannelPrefix(session, scope.Channel)
	k = append(k, scope.Filter...)
	return k
}

func parseScope(rest []byte) (event.Scope, bool) {
	i := bytes.IndexByte(rest, sep)
	if i <= 0 {
		return event.Scope{}, false
	}
	return event.Scope{Channel: string(rest[:i]), Filter: string(rest[i+1:])}, true
}
