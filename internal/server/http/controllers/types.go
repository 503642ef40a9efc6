package controllers

import (
	"time"

	"github.com/rzbill/hostlive/internal/event"
	"github.com/rzbill/hostlive/internal/health"
)

// healthResp is the body of GET /v1/healthz.
type healthResp struct {
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Channels []health.Snapshot `json:"channels"`
}

// leaseResp describes the stored lease of one channel.
type leaseResp struct {
	Channel   string    `json:"channel"`
	Filter    string    `json:"filter,omitempty"`
	Key       string    `json:"key"`
	Owner     string    `json:"owner,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	Fresh     bool      `json:"fresh"`
	Error     string    `json:"error,omitempty"`
}

// instanceResp summarizes one in-process instance.
type instanceResp struct {
	ID         string            `json:"id"`
	Foreground bool              `json:"foreground"`
	Channels   []health.Snapshot `json:"channels"`
}

// visibilityReq moves an instance to the foreground or background.
type visibilityReq struct {
	Foreground bool `json:"foreground"`
}

// filterReq replaces the filter of every channel of an instance.
type filterReq struct {
	Filter event.Filter `json:"filter"`
}
