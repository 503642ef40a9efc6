package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/hostlive/internal/runtime"
)

// InstancesController exposes the in-process instances and lets an operator
// drive their visibility and filter.
type InstancesController struct {
	rt  *runtime.Runtime
	now func() time.Time
}

// NewInstancesController creates a new instances controller.
func NewInstancesController(rt *runtime.Runtime) *InstancesController {
	return &InstancesController{rt: rt, now: time.Now}
}

// RegisterRoutes registers instance routes.
func (c *InstancesController) RegisterRoutes(r chi.Router) {
	r.Route("/v1/instances", func(r chi.Router) {
		r.Get("/", c.handleList)
		r.Put("/{id}/visibility", c.handleVisibility)
		r.Put("/{id}/filter", c.handleFilter)
	})
}

func (c *InstancesController) handleList(w http.ResponseWriter, _ *http.Request) {
	insts := c.rt.Instances()
	out := make([]instanceResp, 0, len(insts))
	for _, inst := range insts {
		out = append(out, instanceResp{
			ID:         inst.ID(),
			Foreground: inst.Gate().Foreground(),
			Channels:   inst.Snapshots(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": out})
}

// handleVisibility applies a foreground/background transition to the
// instance gate. Repeated requests for the current state are no-ops.
func (c *InstancesController) handleVisibility(w http.ResponseWriter, r *http.Request) {
	inst := c.rt.Instance(chi.URLParam(r, "id"))
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	var req visibilityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Foreground {
		inst.Gate().SetForeground(c.now())
	} else {
		inst.Gate().SetBackground(c.now())
	}
	writeNoContent(w)
}

func (c *InstancesController) handleFilter(w http.ResponseWriter, r *http.Request) {
	inst := c.rt.Instance(chi.URLParam(r, "id"))
	if inst == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	var req filterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Filter.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := inst.SetFilter(r.Context(), req.Filter); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeNoContent(w)
}
