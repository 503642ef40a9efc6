package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
)

// Config declares a logger.
type Config struct {
	Level      string   `json:"level" yaml:"level" env:"HOSTLIVE_LOG_LEVEL"`
	Format     string   `json:"format" yaml:"format" env:"HOSTLIVE_LOG_FORMAT"`
	Output     string   `json:"output" yaml:"output" env:"HOSTLIVE_LOG_OUTPUT"`
	Redact     []string `json:"redact" yaml:"redact" env:"HOSTLIVE_LOG_REDACT" env-separator:","`
	SampleEach int      `json:"sampleEach" yaml:"sampleEach" env:"HOSTLIVE_LOG_SAMPLE_EACH"`
}

// ParseLevel converts a level name to a Level. Empty input is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg. Output is "stderr" (default), "null",
// or a file path opened in append mode.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := []LoggerOption{WithLevel(lvl)}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		opts = append(opts, WithFormatter(&TextFormatter{}))
	case "json":
		opts = append(opts, WithFormatter(&JSONFormatter{}))
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	switch cfg.Output {
	case "", "stderr":
		opts = append(opts, WithOutput(NewConsoleOutput()))
	case "null":
		opts = append(opts, WithOutput(NullOutput{}))
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		opts = append(opts, WithOutput(NewWriterOutput(f)))
	}

	if len(cfg.Redact) > 0 {
		opts = append(opts, WithRedactions(cfg.Redact...))
	}
	if cfg.SampleEach > 1 {
		opts = append(opts, WithSampling(cfg.SampleEach))
	}
	return NewLogger(opts...), nil
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimRight(string(p), "\n"), Str("source", "stdlog"))
	return len(p), nil
}

// RedirectStdLog sends the standard library logger (used by Pebble and
// go-redis internals) through l.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{l: l})
}
