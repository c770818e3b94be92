package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf).With(String("component", "location"))

	l.Info(context.Background(), "source started", Int("interval_ms", 4000), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "source started" {
		t.Fatalf("msg = %v, want %q", rec["msg"], "source started")
	}
	if rec["component"] != "location" {
		t.Fatalf("component = %v, want location", rec["component"])
	}
	if rec["interval_ms"] != float64(4000) {
		t.Fatalf("interval_ms = %v, want 4000", rec["interval_ms"])
	}
	if rec["error"] != "boom" {
		t.Fatalf("error = %v, want boom", rec["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf)

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden too")
	l.Warn(context.Background(), "visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("output contains filtered messages: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("output missing warn message: %q", out)
	}
}

func TestNoopDropsEverything(t *testing.T) {
	l := Noop().With(String("k", "v"))
	l.Error(context.Background(), "nothing happens")
}
