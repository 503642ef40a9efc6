// Package dispatch delivers event batches to local subscribers.
//
// Delivery is in order and at-least-once: the same event may reach a handler
// twice when leadership changes hands or a batch is replayed from fanout.
// Handlers that cannot tolerate that should be wrapped with Dedup.
//
// A subscription may carry a CEL predicate evaluated per event with the
// variables id, type, entityId (strings), timestamp_ms (int) and metadata
// (dyn). For example:
//
//	type.startsWith("invoice.") && metadata.amount > 100.0
package dispatch
