package socket

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates a stream URL and rewrites it into canonical
// ws/wss form. http and https schemes are mapped to their WebSocket
// counterparts; anything else is rejected.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		return "", fmt.Errorf("%w: missing scheme in %q", ErrInvalidURL, raw)
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}
