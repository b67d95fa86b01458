// Package logger builds the structured logger used for diagnostics.
//
// Results meant for the user are printed by the CLI. Everything else, such as
// per-file progress at DEBUG, warnings about cleanup, and phase timings, goes
// through the *slog.Logger returned by [New].
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	Level  string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `json:"format"` // text, json
	Output string `json:"output"` // stdout, stderr, or file path
}

// ErrInvalid is returned for an unknown level or format.
var ErrInvalid = errors.New("invalid logger config")

// ParseLevel converts DEBUG/INFO/WARN/ERROR (any case) to a slog level.
// The empty string is INFO.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: level %q (want DEBUG, INFO, WARN or ERROR)", ErrInvalid, level)
	}
}

// New returns a logger for cfg. "stdout" and "stderr" select the given
// writers; any other Output is a file path opened for append. The returned
// Closer closes that file and is a no-op otherwise.
func New(cfg Config, stdout, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)

	switch strings.ToLower(cfg.Output) {
	case "stderr", "":
		out = stderr
	case "stdout":
		out = stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}

		out, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "text", "":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		_ = closer.Close()

		return nil, nil, fmt.Errorf("%w: format %q (want text or json)", ErrInvalid, cfg.Format)
	}

	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
