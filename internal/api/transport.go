package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient builds the transport for one session. proxy may be empty or
// an http, https or socks5 URL; it applies to command and storage requests of
// this client only. timeout bounds whole requests and is normally left zero
// in favor of per-call contexts.
func NewHTTPClient(proxy string, timeout time.Duration) (*http.Client, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("api: default transport is %T", http.DefaultTransport)
	}

	transport = transport.Clone()

	if proxy != "" {
		u, err := ParseProxy(proxy)
		if err != nil {
			return nil, err
		}

		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// ParseProxy validates a proxy URL.
func ParseProxy(proxy string) (*url.URL, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("api: invalid proxy URL %q: %w", proxy, err)
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("api: unsupported proxy scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("api: proxy URL %q has no host", proxy)
	}

	return u, nil
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
