// Package log provides hostlive's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by Go's
// standard library slog via a bridge handler that feeds our formatter and
// output pipeline, so redaction and sampling behave the same everywhere.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("runner"), log.Channel("finance"))
//	l.Info("leader acquired", log.Dur("ttl", 18*time.Second))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config (level, text or
// JSON format, stderr/null/file output, redacted keys, sampling).
//
// # Interop
//
// RedirectStdLog routes the standard library logger through a Logger so that
// dependencies writing to log.Printf end up in the same stream.
package log
