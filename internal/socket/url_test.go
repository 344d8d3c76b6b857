package socket

import (
	"errors"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"ws passthrough", "ws://example.com/feed", "ws://example.com/feed"},
		{"wss passthrough", "wss://example.com/feed", "wss://example.com/feed"},
		{"http mapped", "http://example.com/feed", "ws://example.com/feed"},
		{"https mapped", "https://example.com/feed", "wss://example.com/feed"},
		{"missing path", "wss://example.com", "wss://example.com/"},
		{"whitespace trimmed", "  ws://example.com/feed  ", "ws://example.com/feed"},
		{"port and query kept", "wss://example.com:8443/feed?token=a", "wss://example.com:8443/feed?token=a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.raw)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) failed: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"no scheme", "example.com/feed"},
		{"bad scheme", "ftp://example.com/feed"},
		{"no host", "ws:///feed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeURL(tt.raw); !errors.Is(err, ErrInvalidURL) {
				t.Errorf("NormalizeURL(%q) error = %v, want ErrInvalidURL", tt.raw, err)
			}
		})
	}
}
