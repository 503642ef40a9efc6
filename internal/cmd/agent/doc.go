// Package agent exposes the entrypoints the CLI uses to run hostlive
// instances with their status servers, and to inspect or reset the shared
// stores of a stopped agent.
//
// Example:
//
//	cfg, _ := config.Load("hostlive.yaml")
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	_ = agent.Run(ctx, agent.Options{Config: cfg, Out: os.Stdout})
package agent
