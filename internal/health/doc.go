// Package health aggregates poll outcomes into immutable per-channel
// snapshots.
//
// A Monitor is written by its channel runner and read by anyone: status
// endpoints, observers and tests. Every write replaces the snapshot pointer,
// so readers never see a partially updated value. Snapshots are mirrored to
// Prometheus through Metrics and a sampled fraction of cycles is logged.
//
// Health never influences scheduling; it only reports.
package health
