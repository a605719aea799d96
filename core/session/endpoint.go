package session

import (
	"fmt"
	"net/url"
	"strings"
)

const sessionIDPlaceholder = "{session_id}"

// Endpoint locates the duplex connection of a session: a websocket base URL
// and a path template containing {session_id}.
type Endpoint struct {
	BaseURL string
	Path    string
}

// URL renders the endpoint for one session.
func (e Endpoint) URL(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}

	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", e.BaseURL, err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", e.BaseURL, base.Scheme)
	}

	path := strings.ReplaceAll(e.Path, sessionIDPlaceholder, url.PathEscape(sessionID))
	return base.JoinPath(path).String(), nil
}
