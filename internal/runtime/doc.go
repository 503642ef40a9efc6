// Package runtime wires configuration, storage, lease and fanout backends,
// metrics and per-instance channel runners into one process.
//
// A process hosts one Runtime and any number of Instances. Every instance has
// its own owner id, visibility gate and dispatcher, and one channel runner per
// configured channel; all instances share the runtime's lease store, fanout
// topic, cursor store and metrics registry.
//
// Example:
//
//	cfg := config.Default()
//	cfg.Session.Token = "..."
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	inst, _ := rt.NewInstance()
//	_, _ = inst.Dispatcher().Subscribe("finance", handler)
//	_ = inst.Run(ctx)
package runtime
