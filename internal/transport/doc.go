// Package transport executes single long-poll cycles against the realtime
// subscribe endpoint.
//
// A Client performs exactly one network request per Poll and never more than
// one at a time; an overlapping Poll is reported as OutcomeDropped without
// touching the network. Results are classified so the caller can drive its
// backoff and health bookkeeping without inspecting errors:
//
//	events     the server returned events and a new cursor
//	empty      the server returned no events (immediate or heartbeat)
//	error      network failure, non-2xx status or oversized body (ErrTransport)
//	malformed  the body could not be decoded (ErrMalformed)
//	cancelled  the caller's context was cancelled
//	skipped    no session token was available (ErrAuthMissing)
//	dropped    another poll was already in flight
//
// The wire shape lives behind Requester; HTTPRequester is the production
// implementation.
package transport
