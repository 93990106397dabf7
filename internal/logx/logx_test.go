package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want Environment
	}{
		{"production", Production},
		{" Production ", Production},
		{"testing", Testing},
		{"development", Development},
		{"staging", Development},
		{"", Development},
	}
	for _, tt := range tests {
		if got := ParseEnvironment(tt.in); got != tt.want {
			t.Errorf("ParseEnvironment(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNew_ProductionWritesJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Production)

	l.Debug().Msg("hidden")
	l.Info().Str("run_id", "r1").Msg("visible")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be dropped in production: %s", out)
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(out), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if line["message"] != "visible" || line["run_id"] != "r1" {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestNew_DevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Development)

	l.Debug().Msg("probe queue drained")
	if !strings.Contains(buf.String(), "probe queue drained") {
		t.Errorf("expected debug output, got %q", buf.String())
	}
}
