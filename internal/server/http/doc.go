// Package httpserver serves the agent's status surface: per-channel health,
// stored leases, Prometheus metrics, and operator controls for in-process
// instances.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
