// Package fanout is the best-effort broadcast bus between instances sharing a
// session.
//
// The leader of a scope publishes every fetched batch and a heartbeat on each
// renewal; followers subscribe to the scope's topic and replay what they
// receive. Nothing is persisted and slow subscribers lose messages, so
// consumers must treat the bus as a hint and rely on the lease for
// correctness. Receivers ignore messages carrying their own owner id.
package fanout
