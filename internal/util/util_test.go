package util

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func always(error) bool { return true }

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := RetryIf(context.Background(), 5, 0, always, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := RetryIf(context.Background(), maxAttempts, 0, always, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("constraint failed")
	attempts := 0

	err := RetryIf(context.Background(), 5, 0, func(err error) bool { return err != permanent }, func() error {
		attempts++
		return permanent
	})
	if err != permanent {
		t.Errorf("RetryIf() = %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestRequestIDUnique(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	if b.Seq <= a.Seq {
		t.Errorf("sequence not increasing: %d then %d", a.Seq, b.Seq)
	}
	if a.AttemptID == b.AttemptID || a.AttemptID == "" {
		t.Errorf("attempt ids = %q, %q", a.AttemptID, b.AttemptID)
	}
	if !strings.HasSuffix(a.String(), "/"+a.AttemptID) {
		t.Errorf("String() = %q", a.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, LogOptions{Level: "warn"})
	log.Info("hidden")
	log.Warn("shown", "service", "svc-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "shown" || rec["service"] != "svc-1" {
		t.Errorf("record = %v", rec)
	}
}

func TestLogWriterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerttrader.log")
	log := NewLoggerWithOptions(LogOptions{Level: "info", File: path})
	log.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
	if LogWriter(LogOptions{}) != os.Stdout {
		t.Errorf("LogWriter without file should be stdout")
	}
}
