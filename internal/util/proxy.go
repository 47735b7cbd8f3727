// Package util holds HTTP plumbing shared by the AWS and OpenAI clients.
package util

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NewProxyFunc creates a proxy function for proxyURL. An empty URL falls
// back to HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func NewProxyFunc(proxyURL string) (func(*http.Request) (*url.URL, error), error) {
	if proxyURL == "" {
		return http.ProxyFromEnvironment, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: scheme and host required", proxyURL)
	}
	return http.ProxyURL(u), nil
}

// NewHTTPClient returns a client that routes through proxyURL. A zero
// timeout leaves requests bounded only by their context.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	proxy, err := NewProxyFunc(proxyURL)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxy

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
