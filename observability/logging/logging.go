// Package logging standardises structured JSON output across the node and
// gateway binaries. Field names follow the collector contract: timestamp,
// severity, message, plus the service and env labels on every line.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes optional size-rotated log output. MaxSizeMB bounds a
// single file before rotation, MaxAgeDays prunes rotated files by age.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup installs a JSON slog handler on stdout, makes it the process default
// and returns it. The standard library logger is bridged onto the same
// handler so legacy log.Printf call sites keep emitting structured lines.
func Setup(service, env string) *slog.Logger {
	return setup(service, env, os.Stdout)
}

// SetupWithFile behaves like Setup but tees log output into a size-rotated
// file alongside stdout. An empty path falls back to stdout-only logging.
func SetupWithFile(service, env string, file FileConfig) *slog.Logger {
	path := strings.TrimSpace(file.Path)
	if path == "" {
		return Setup(service, env)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("log directory %s unavailable, using stdout: %v", dir, err)
			return Setup(service, env)
		}
	}
	if file.MaxSizeMB <= 0 {
		file.MaxSizeMB = 100
	}
	if file.MaxBackups <= 0 {
		file.MaxBackups = 3
	}
	if file.MaxAgeDays <= 0 {
		file.MaxAgeDays = 28
	}
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
	return setup(service, env, io.MultiWriter(os.Stdout, rotated))
}

func setup(service, env string, out io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		ReplaceAttr: renameCoreFields,
	})

	labels := serviceLabels(service, env)
	args := make([]any, len(labels))
	for i, attr := range labels {
		args[i] = attr
	}

	base := slog.New(handler).With(args...)
	slog.SetDefault(base)
	bridgeStdLogger(handler.WithAttrs(labels))
	return base
}

// renameCoreFields maps slog's built-in keys onto the names the log
// collector indexes.
func renameCoreFields(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}

func serviceLabels(service, env string) []slog.Attr {
	labels := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		labels = append(labels, slog.String("env", env))
	}
	return labels
}

// bridgeStdLogger redirects the standard library logger through the slog
// handler so packages that still use log.Printf emit structured lines.
func bridgeStdLogger(handler slog.Handler) {
	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
}
