// Package cursor stores the last acknowledged subscribe cursor per
// (session, channel, filter).
//
// Cursors are opaque server tokens. The store never compares them; it keeps
// whatever the caller adopted last. Changing a channel's filter must Reset
// the cursor for the new scope so the first poll under the new filter starts
// from the server's default position rather than an unrelated token.
//
// # Keyspace (Pebble backend)
//
//	cursor/{sessionHash}/{channel}/{filterKey}
//
// Usage
//
//	s := cursor.NewPebbleStore(db, sessionHash)
//	_ = s.Save(ctx, scope, "c-1042")
//	cur, _ := s.Load(ctx, scope)
//	_ = s.Reset(ctx, scope)
package cursor
