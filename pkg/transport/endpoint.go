package transport

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Endpoint is a parsed `scheme://host[:port]/channel` URI.
type Endpoint struct {
	Scheme  string
	Host    string
	Path    string
	Channel string
}

// ParseEndpoint parses raw. The scheme and host are required; the last
// path segment, when present, names the channel.
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: parse endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, fmt.Errorf("transport: endpoint %q needs scheme://host", raw)
	}
	ep := Endpoint{Scheme: strings.ToLower(u.Scheme), Host: u.Host, Path: u.EscapedPath()}
	if p := strings.Trim(u.Path, "/"); p != "" {
		ep.Channel = path.Base(p)
	}
	return ep, nil
}

// String renders the endpoint back as a URI.
func (e Endpoint) String() string {
	u := url.URL{Scheme: e.Scheme, Host: e.Host, Path: e.Path}
	return u.String()
}
