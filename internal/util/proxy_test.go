package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewProxyFunc_Explicit(t *testing.T) {
	proxy, err := NewProxyFunc("http://proxy.internal:3128")
	if err != nil {
		t.Fatalf("NewProxyFunc failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://bedrock-runtime.us-east-1.amazonaws.com/", nil)
	u, err := proxy(req)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Host != "proxy.internal:3128" {
		t.Errorf("unexpected proxy %v", u)
	}
}

func TestNewProxyFunc_Invalid(t *testing.T) {
	for _, raw := range []string{"proxy.internal", "://bad"} {
		if _, err := NewProxyFunc(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewHTTPClient("", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %v", client.Timeout)
	}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}
