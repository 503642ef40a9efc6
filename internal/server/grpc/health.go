package grpcserver

import (
	"context"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServicePrefix prefixes per-channel health service names.
const ServicePrefix = "hostlive."

// Sync recomputes serving statuses from the runtime. A channel serves while
// every instance reports it live; the overall service "" also requires the
// backends to answer.
func (s *Server) Sync(ctx context.Context) {
	live := make(map[string]bool)
	for _, ch := range s.rt.Config().Channels {
		live[ch] = false
	}
	seen := make(map[string]bool)
	for _, snap := range s.rt.Snapshots() {
		if !seen[snap.Channel] {
			seen[snap.Channel] = true
			live[snap.Channel] = snap.IsLive
			continue
		}
		live[snap.Channel] = live[snap.Channel] && snap.IsLive
	}

	all := s.rt.CheckHealth(ctx) == nil
	for ch, ok := range live {
		s.health.SetServingStatus(ServicePrefix+ch, status(ok))
		all = all && ok
	}
	s.health.SetServingStatus("", status(all))
}

func status(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
