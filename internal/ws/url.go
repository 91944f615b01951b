package ws

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL turns the http(s) base of the chat backend into the websocket
// endpoint <base>/ws/<service>, carrying the token as a query parameter.
func BuildURL(base, service, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + service
	u.RawQuery = ""
	if token != "" {
		u.RawQuery = url.Values{"token": []string{token}}.Encode()
	}
	return u.String(), nil
}
