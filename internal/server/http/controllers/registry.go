package controllers

import (
	"github.com/go-chi/chi/v5"

	"github.com/rzbill/hostlive/internal/runtime"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general   *GeneralController
	instances *InstancesController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime) *ControllerRegistry {
	return &ControllerRegistry{
		general:   NewGeneralController(rt),
		instances: NewInstancesController(rt),
	}
}

// RegisterAllRoutes registers all controller routes on r.
func (r *ControllerRegistry) RegisterAllRoutes(router chi.Router) {
	r.general.RegisterRoutes(router)
	r.instances.RegisterRoutes(router)
}
