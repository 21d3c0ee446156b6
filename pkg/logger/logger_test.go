package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetGlobalIgnoresNil(t *testing.T) {
	before := Global()
	SetGlobal(nil)
	if Global() != before {
		t.Fatal("SetGlobal(nil) replaced the global logger")
	}

	nop := Nop()
	SetGlobal(nop)
	defer SetGlobal(before)
	if Global() != nop {
		t.Fatal("SetGlobal did not install the logger")
	}
}
