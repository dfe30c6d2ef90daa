package slogutil

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestCaliperHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("Extracted revision", "tag", "1.0", "files", 3)

	output := buf.String()
	for _, want := range []string{"[info]", "Extracted revision", " | ", "tag=1.0", "files=3"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	if !strings.HasSuffix(output, "\n") {
		t.Errorf("expected trailing newline, got: %q", output)
	}
}

func TestCaliperHandler_Levels(t *testing.T) {
	tests := []struct {
		logFunc  func(*slog.Logger)
		expected string
	}{
		{func(l *slog.Logger) { l.Debug("debug") }, "[debug]"},
		{func(l *slog.Logger) { l.Info("info") }, "[info]"},
		{func(l *slog.Logger) { l.Warn("warn") }, "[warn]"},
		{func(l *slog.Logger) { l.Error("error") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(NewLogger(&buf, slog.LevelDebug))
			if !strings.Contains(buf.String(), tt.expected) {
				t.Errorf("expected %s in output, got: %s", tt.expected, buf.String())
			}
		})
	}
}

func TestCaliperHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("messages below warn should be filtered, got: %s", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should be included")
	}
}

func TestCaliperHandler_GroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).With("metric", "compspec").WithGroup("store")

	logger.Info("wrote", "rows", 2, "took", 1500*time.Millisecond)

	output := buf.String()
	for _, want := range []string{"metric=compspec", "store.rows=2", "store.took=1.5s"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LevelFromString(in); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	if got := LevelFromVerbosity(2, true, slog.LevelInfo); got != silent {
		t.Errorf("quiet should win, got %v", got)
	}
	if got := LevelFromVerbosity(0, false, slog.LevelWarn); got != slog.LevelWarn {
		t.Errorf("verbosity 0 should keep configured level, got %v", got)
	}
	if got := LevelFromVerbosity(1, false, slog.LevelWarn); got != slog.LevelInfo {
		t.Errorf("verbosity 1 = %v, want info", got)
	}
	if got := LevelFromVerbosity(3, false, slog.LevelWarn); got != slog.LevelDebug {
		t.Errorf("verbosity 3 = %v, want debug", got)
	}
}

func TestNewDiscardLoggerAndOr(t *testing.T) {
	logger := NewDiscardLogger()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled for any level")
	}
	if Or(nil) == nil {
		t.Error("Or(nil) returned nil")
	}
	if Or(logger) != logger {
		t.Error("Or should return the given logger")
	}
}

func TestCaliperHandler_Scope(t *testing.T) {
	tests := []struct {
		name   string
		logger func(*slog.Logger) *slog.Logger
		want   string
	}{
		{"none", func(l *slog.Logger) *slog.Logger { return l }, "[info] built | n=1\n"},
		{"package", func(l *slog.Logger) *slog.Logger { return l.With(PackageKey, "pypi:sif") }, "[info] <pypi:sif> built | n=1\n"},
		{"package and run", func(l *slog.Logger) *slog.Logger {
			return l.With(PackageKey, "pypi:sif", RunKey, "1a2b3c4d", "metric", "compspec")
		}, "[info] <pypi:sif#1a2b3c4d> built | metric=compspec n=1\n"},
		{"grouped keys stay attributes", func(l *slog.Logger) *slog.Logger {
			return l.WithGroup("src").With(PackageKey, "pypi:sif")
		}, "[info] built | src.package=pypi:sif src.n=1\n"},
		{"run only", func(l *slog.Logger) *slog.Logger {
			return l.With(RunKey, "1a2b3c4d")
		}, "[info] <#1a2b3c4d> built | n=1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logger(NewLogger(&buf, slog.LevelInfo)).Info("built", "n", 1)
			if got := buf.String(); !strings.HasSuffix(got, tt.want) {
				t.Errorf("output = %q, want suffix %q", got, tt.want)
			}
		})
	}
}
