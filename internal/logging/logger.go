package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"speecheval/internal/config"
)

// LogFileName is the daemon log written under paths.log_dir.
const LogFileName = "speecheval.log"

// Options configures New. Output paths accept "stdout", "stderr", or a file
// path; duplicates across the two lists are opened once.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New builds a logger writing to every configured sink.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))

	sinks := uniqueSinks(opts.OutputPaths, opts.ErrorOutputPaths)
	format, err := resolveFormat(opts.Format, sinks[0])
	if err != nil {
		return nil, err
	}
	out, err := openSinks(sinks)
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level.Level() <= slog.LevelDebug
	if format == "json" {
		return slog.New(newJSONHandler(out, level, addSource)), nil
	}
	return slog.New(newConsoleHandler(out, level, addSource)), nil
}

// NewFromConfig logs to stdout and, when a log directory is configured, to
// LogFileName inside it.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	outputs := []string{"stdout"}
	errorsOut := []string{"stderr"}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		file := filepath.Join(dir, LogFileName)
		outputs = append(outputs, file)
		errorsOut = append(errorsOut, file)
	}
	return New(Options{
		Level:            cfg.Logging.Level,
		Format:           cfg.Logging.Format,
		OutputPaths:      outputs,
		ErrorOutputPaths: errorsOut,
	})
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// resolveFormat maps the configured format to "console" or "json". "auto"
// picks console only when the first sink is a terminal.
func resolveFormat(value, firstSink string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(value)); format {
	case "", "console":
		return "console", nil
	case "json":
		return "json", nil
	case "auto":
		var f *os.File
		switch firstSink {
		case "stdout":
			f = os.Stdout
		case "stderr":
			f = os.Stderr
		}
		if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			return "console", nil
		}
		return "json", nil
	default:
		return "", fmt.Errorf("log format: unsupported value %q", value)
	}
}

func uniqueSinks(lists ...[]string) []string {
	seen := make(map[string]bool)
	var sinks []string
	for _, list := range lists {
		for _, sink := range list {
			sink = strings.TrimSpace(sink)
			if sink == "" || seen[sink] {
				continue
			}
			seen[sink] = true
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		sinks = []string{"stdout"}
	}
	return sinks
}

func openSinks(sinks []string) (io.Writer, error) {
	writers := make([]io.Writer, 0, len(sinks))
	for _, sink := range sinks {
		switch sink {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(sink), 0o755); err != nil {
				return nil, fmt.Errorf("ensure log directory: %w", err)
			}
			file, err := os.OpenFile(sink, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", sink, err)
			}
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}
