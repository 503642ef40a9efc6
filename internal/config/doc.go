// Package config provides loading and environment overlay for hostlive
// configuration. It exposes a Default() baseline, Load for JSON/YAML files,
// and FromEnv for HOSTLIVE_* variables. Durations use Go duration syntax
// ("18s", "500ms") in YAML and the environment.
//
// Example:
//
//	cfg, err := config.Load("/etc/hostlive.yaml")
//	if err != nil { /* handle */ }
//	if err := cfg.Validate(); err != nil { /* handle */ }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
package config
