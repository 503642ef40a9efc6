// Package lease elects one poller per (session, channel, filter) among the
// instances sharing a session.
//
// A lease is a small JSON record {owner, expiresAt} kept in a Store. The
// holder renews it on a heartbeat interval that is strictly shorter than the
// TTL; followers check it on a randomized interval and take over once it has
// gone stale. Brief dual leadership during a takeover is tolerated: both
// leaders publish the same events and consumers are idempotent.
//
// Store backends
//
//   - MemoryStore: a mutex-guarded map, for instances in one process.
//   - PebbleStore: durable, for instances in one process sharing a data dir.
//   - RedisStore: a Lua compare-and-set, for instances across processes.
//
// When the store cannot be reached the Coordinator falls back to degraded
// single-instance leadership and rejoins normal election as soon as the store
// answers again.
package lease
