package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/hostlive/internal/lease"
	"github.com/rzbill/hostlive/internal/runtime"
)

// GeneralController serves process-wide status: health and leases.
type GeneralController struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt, now: time.Now}
}

// RegisterRoutes registers general routes.
func (c *GeneralController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/healthz", c.handleHealth)
	r.Get("/v1/leases", c.handleLeases)
}

// handleHealth returns every channel snapshot. It answers 503 when a backend
// check fails or any channel of any instance is not live.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResp{Status: "ok", Channels: c.rt.Snapshots()}
	status := http.StatusOK
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		resp.Status = "not_serving"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	for _, s := range resp.Channels {
		if !s.IsLive && status == http.StatusOK {
			resp.Status = "not_live"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// handleLeases returns the stored lease of every configured channel.
func (c *GeneralController) handleLeases(w http.ResponseWriter, r *http.Request) {
	now := c.now()
	views := c.rt.LeaseViews(r.Context())
	out := make([]leaseResp, 0, len(views))
	for _, v := range views {
		lr := leaseResp{Channel: v.Channel, Filter: v.Filter, Key: v.Key}
		switch {
		case v.Err == nil:
			lr.Owner = v.Record.Owner
			lr.ExpiresAt = v.Record.Expiry().UTC()
			lr.Fresh = v.Record.Fresh(now)
		case errors.Is(v.Err, lease.ErrNotFound):
		default:
			lr.Error = v.Err.Error()
		}
		out = append(out, lr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"leases": out})
}
