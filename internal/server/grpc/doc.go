// Package grpcserver hosts the standard gRPC health service for the agent.
// The overall service "" and one "hostlive.<channel>" service per configured
// channel report SERVING while the channel is live on every instance.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
