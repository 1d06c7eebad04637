package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		SetLevel(tt.in)
		if got := Log.GetLevel(); got != tt.want {
			t.Errorf("SetLevel(%q) level = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSetFormat_KeepsLevel(t *testing.T) {
	t.Cleanup(func() {
		SetFormat("console")
		SetLevel("info")
	})

	SetLevel("warn")
	SetFormat("json")
	if got := Log.GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("level after SetFormat = %s, want warn", got)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := Log
	t.Cleanup(func() { Log = prev })

	Log = newLogger(&buf, zerolog.InfoLevel)
	cl := Component("pipeline")
	cl.Info().Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() err = %v (%q)", err, buf.String())
	}
	if entry["component"] != "pipeline" || entry["message"] != "hello" {
		t.Fatalf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("entry without timestamp: %v", entry)
	}
}
