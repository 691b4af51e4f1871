package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToFields(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty", nil, nil},
		{"pairs", []any{"vehicle", "b1", "drop", 25.0, "ok", true}, []string{"vehicle", "drop", "ok"}},
		{"duration and time", []any{"took", time.Second, "at", time.Unix(0, 0)}, []string{"took", "at"}},
		{"bare error", []any{boom}, []string{"error"}},
		{"zap field passthrough", []any{zap.String("x", "y"), "n", 1}, []string{"x", "n"}},
		{"odd trailing value", []any{"k", "v", "dangling"}, []string{"k", "arg#2"}},
		{"non-string key", []any{42, "v"}, []string{"invalid_key_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("expected %d fields, got %d: %+v", len(tt.wantKeys), len(fields), fields)
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d: expected key %q, got %q", i, tt.wantKeys[i], f.Key)
				}
			}
		})
	}
}

func TestLoggerErrorAttachesErr(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).WithName("poller").WithValues("vehicle", "b1")

	l.Error(errors.New("feed down"), "poll failed", "attempt", 3)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "poller" {
		t.Fatalf("expected logger name poller, got %q", e.LoggerName)
	}
	ctx := e.ContextMap()
	if ctx["vehicle"] != "b1" {
		t.Fatalf("expected vehicle field, got %v", ctx["vehicle"])
	}
	if ctx["error"] != "feed down" {
		t.Fatalf("expected error field, got %v", ctx["error"])
	}
	if ctx["attempt"] != int64(3) {
		t.Fatalf("expected attempt=3, got %v (%T)", ctx["attempt"], ctx["attempt"])
	}
}

func TestOptionsValidate(t *testing.T) {
	o := NewOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("defaults should validate, got %v", errs)
	}
	o.Format = "xml"
	o.Level = "loud"
	if errs := o.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}
