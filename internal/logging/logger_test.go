package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid JSON config",
			config: Config{Level: "info", Format: "json"},
		},
		{
			name:   "valid text config",
			config: Config{Level: "debug", Format: "text"},
		},
		{
			name:    "invalid log level",
			config:  Config{Level: "invalid", Format: "json"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  Config{Level: "info", Format: "invalid"},
			wantErr: true,
		},
		{
			name:   "defaults on empty strings",
			config: Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.config.Writer = buf

			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		log      func(*slog.Logger)
		wantLog  bool
	}{
		{"debug level logs debug", "debug", func(l *slog.Logger) { l.Debug("msg") }, true},
		{"info level filters debug", "info", func(l *slog.Logger) { l.Debug("msg") }, false},
		{"info level logs info", "info", func(l *slog.Logger) { l.Info("msg") }, true},
		{"warn level filters info", "warn", func(l *slog.Logger) { l.Info("msg") }, false},
		{"error level logs error", "error", func(l *slog.Logger) { l.Error("msg") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger, err := New(Config{Level: tt.logLevel, Format: "json", Writer: buf})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			tt.log(logger)

			hasLog := strings.Contains(buf.String(), "msg")
			if hasLog != tt.wantLog {
				t.Errorf("got log=%v, want log=%v, output=%s", hasLog, tt.wantLog, buf.String())
			}
		})
	}
}

func TestFieldsFromContext(t *testing.T) {
	ctx := context.Background()
	if fields := FieldsFromContext(ctx); len(fields) != 0 {
		t.Fatalf("expected no fields on bare context, got %v", fields)
	}

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithModel(ctx, "llama-3")
	fields := FieldsFromContext(ctx)
	if len(fields) != 4 {
		t.Fatalf("expected 4 field entries, got %v", fields)
	}
	if GetRequestID(ctx) != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", GetRequestID(ctx))
	}
	if GetModel(ctx) != "llama-3" {
		t.Errorf("GetModel() = %q, want llama-3", GetModel(ctx))
	}
	if GetTraceID(ctx) != "" {
		t.Errorf("GetTraceID() = %q, want empty", GetTraceID(ctx))
	}
}
