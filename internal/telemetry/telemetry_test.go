package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.env)
			if got := LogLevel(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSetupLogger_Text(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "INFO")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := WithPipelineRunID(SetupLogger(&buf), "run-1")
	logger.Info("admitted")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "pipeline_run_id=run-1") {
		t.Errorf("expected pipeline_run_id in output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug must be filtered at INFO: %s", out)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger without value in context")
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}

func TestMetrics_Counters(t *testing.T) {
	before := testutil.ToFloat64(AdmissionAttempts.WithLabelValues("accepted"))
	AdmissionAttempts.WithLabelValues("accepted").Inc()

	if got := testutil.ToFloat64(AdmissionAttempts.WithLabelValues("accepted")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
