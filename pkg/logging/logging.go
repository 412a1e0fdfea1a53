// Package logging builds the diagnostic sink shared by every component.
//
// The CLI calls New exactly once at startup and hands the resulting
// zerolog.Logger to each constructor; components derive child loggers with
// a "component" field. There is no package-level logger and nothing to tear
// down: a file output stays open for the life of the process.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Config describes the sink.
type Config struct {
	// Level is trace, debug, info, warn, error or disabled.
	Level string `mapstructure:"level" yaml:"level"`
	// Format is json, console or auto (console on a terminal, json otherwise).
	Format string `mapstructure:"format" yaml:"format"`
	// Output is stderr, stdout, discard or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// DefaultConfig logs info and above to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "auto", Output: "stderr"}
}

// New constructs a logger according to cfg.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Nop(), err
	}

	w, err := formatWriter(cfg.Format, out)
	if err != nil {
		return zerolog.Nop(), err
	}

	return NewWithWriter(w, level), nil
}

// NewWithWriter builds a logger over an arbitrary writer.
func NewWithWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "none", "off":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unsupported log level: %s", raw)
	}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	case "discard", "none":
		return io.Discard, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open log file %s: %w", output, err)
	}
	return f, nil
}

func formatWriter(format string, out io.Writer) (io.Writer, error) {
	switch strings.ToLower(format) {
	case "json":
		return out, nil
	case "console", "pretty":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
	case "", "auto":
		if isTerminal(out) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
