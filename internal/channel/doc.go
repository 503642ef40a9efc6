// Package channel runs the realtime state machine for one (channel, filter)
// scope on one instance.
//
// A Runner owns all per-channel state on a single goroutine and drives it
// with one pending timer. The timer fires for whichever of three deadlines
// comes first:
//
//	poll   leader only, while in the foreground and no poll is in flight
//	renew  leader only, on the lease heartbeat interval
//	tick   follower/unleased only, while in the foreground
//
// The subscribe request itself runs on a helper goroutine and reports back
// tagged with a generation. Changing the filter bumps the generation, so a
// response for the superseded filter is discarded and can never overwrite
// the new scope's cursor.
//
// A leader polls, saves the cursor, dispatches events locally and publishes
// them on the scope's fanout topic. A follower never touches the network: it
// replays fanout batches into the dispatcher, adopts the carried cursor and
// promotes itself once the lease goes stale.
package channel
