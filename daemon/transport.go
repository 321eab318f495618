package daemon

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/docker/go-connections/sockets"
)

// NewHTTPClient returns an HTTP client dialing host and the base URL requests should be
// built against. host is one of unix:///path, tcp://addr, http://addr or https://addr.
// timeout bounds the wait for response headers, never the reading of a streamed body.
func NewHTTPClient(host string, timeout time.Duration) (*http.Client, *url.URL, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %q: %v", ErrUnsupportedHost, host, err)
	}

	tr := &http.Transport{ResponseHeaderTimeout: timeout}
	base := &url.URL{Scheme: "http", Host: u.Host}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return nil, nil, fmt.Errorf("%w %q: empty socket path", ErrUnsupportedHost, host)
		}
		if err := sockets.ConfigureTransport(tr, "unix", u.Path); err != nil {
			return nil, nil, fmt.Errorf("configure unix transport: %w", err)
		}
		// placeholder authority; the dialer ignores it
		base.Host = "localhost"
	case "tcp", "http", "https":
		if u.Host == "" {
			return nil, nil, fmt.Errorf("%w %q: empty address", ErrUnsupportedHost, host)
		}
		if err := sockets.ConfigureTransport(tr, "tcp", u.Host); err != nil {
			return nil, nil, fmt.Errorf("configure tcp transport: %w", err)
		}
		if u.Scheme == "https" {
			base.Scheme = "https"
		}
		base.Path = u.Path
	default:
		return nil, nil, fmt.Errorf("%w %q: scheme %q", ErrUnsupportedHost, host, u.Scheme)
	}

	return &http.Client{Transport: tr}, base, nil
}
