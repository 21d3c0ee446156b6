package clientip

import (
	"net/http/httptest"
	"testing"
)

func TestRealClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"203.0.113.7:51234", "203.0.113.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"198.51.100.4", "198.51.100.4"},
		{"[2001:db8::2]", "2001:db8::2"},
		{"  ", Unknown},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = tt.remote
		if got := RealClientIP(r); got != tt.want {
			t.Errorf("RealClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
