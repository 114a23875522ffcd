package transport

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/agentstation/rallysync/pkg/errors"
)

// TestNoAuth tests that NoAuth applies no authentication.
func TestNoAuth(t *testing.T) {
	auth := &NoAuth{}
	req := &http.Request{
		Header: make(http.Header),
	}

	auth.Apply(req, "test-api-key")

	// Should not have any authentication headers
	if len(req.Header) != 0 {
		t.Errorf("Expected no headers, got %d", len(req.Header))
	}
}

// TestBearerAuth tests Bearer token authentication.
func TestBearerAuth(t *testing.T) {
	auth := &BearerAuth{}
	req := &http.Request{
		Header: make(http.Header),
	}

	auth.Apply(req, "test-api-key")

	authHeader := req.Header.Get("Authorization")
	expected := "Bearer test-api-key"
	if authHeader != expected {
		t.Errorf("Expected Authorization header '%s', got '%s'", expected, authHeader)
	}
}

// TestHeaderAuth tests custom header authentication.
func TestHeaderAuth(t *testing.T) {
	auth := &HeaderAuth{Header: "x-api-key"}
	req := &http.Request{
		Header: make(http.Header),
	}

	auth.Apply(req, "test-api-key")

	headerValue := req.Header.Get("x-api-key")
	if headerValue != "test-api-key" {
		t.Errorf("Expected x-api-key header 'test-api-key', got '%s'", headerValue)
	}

	// Should not have Authorization header
	if req.Header.Get("Authorization") != "" {
		t.Error("Should not have Authorization header")
	}
}

// TestQueryAuth tests query parameter authentication.
func TestQueryAuth(t *testing.T) {
	auth := &QueryAuth{Param: "key"}

	// Test with valid URL
	reqURL, _ := url.Parse("https://example.com/rest/v1/teams")
	req := &http.Request{
		URL:    reqURL,
		Header: make(http.Header),
	}

	auth.Apply(req, "test-api-key")

	// Check that the query parameter was added
	if req.URL.Query().Get("key") != "test-api-key" {
		t.Errorf("Expected query param 'key=test-api-key', got '%s'", req.URL.RawQuery)
	}

	// Test with existing query parameters
	reqURL2, _ := url.Parse("https://example.com/rest/v1/teams?existing=value")
	req2 := &http.Request{
		URL:    reqURL2,
		Header: make(http.Header),
	}

	auth.Apply(req2, "test-api-key")

	query := req2.URL.Query()
	if query.Get("key") != "test-api-key" {
		t.Errorf("Expected query param 'key=test-api-key', got '%s'", query.Get("key"))
	}
	if query.Get("existing") != "value" {
		t.Errorf("Expected existing param to be preserved, got '%s'", query.Get("existing"))
	}

	// Test with nil URL (should not panic)
	req3 := &http.Request{
		URL:    nil,
		Header: make(http.Header),
	}

	auth.Apply(req3, "test-api-key")
	// Should not panic and should do nothing
}

// TestMultiAuth tests that every authenticator is applied.
func TestMultiAuth(t *testing.T) {
	auth := MultiAuth{&HeaderAuth{Header: "apikey"}, &BearerAuth{}}
	req := &http.Request{
		Header: make(http.Header),
	}

	auth.Apply(req, "anon-key")

	if got := req.Header.Get("apikey"); got != "anon-key" {
		t.Errorf("Expected apikey header 'anon-key', got '%s'", got)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer anon-key" {
		t.Errorf("Expected Authorization header 'Bearer anon-key', got '%s'", got)
	}
}

// TestParseAuth tests authenticator selection from configuration strings.
func TestParseAuth(t *testing.T) {
	tests := []struct {
		scheme  string
		header  string
		value   string
		query   string
		wantErr bool
	}{
		{scheme: "", header: "apikey", value: "k"},
		{scheme: "gateway", header: "Authorization", value: "Bearer k"},
		{scheme: "bearer", header: "Authorization", value: "Bearer k"},
		{scheme: "header:X-Api-Key", header: "X-Api-Key", value: "k"},
		{scheme: "query:token", query: "token"},
		{scheme: "none"},
		{scheme: "header:", wantErr: true},
		{scheme: "query", wantErr: true},
		{scheme: "oauth", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.scheme, func(t *testing.T) {
			auth, err := ParseAuth(tt.scheme)
			if tt.wantErr {
				if !errors.IsValidationError(err) {
					t.Fatalf("Expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAuth(%q) returned error: %v", tt.scheme, err)
			}

			reqURL, _ := url.Parse("https://example.com/rest/v1/teams")
			req := &http.Request{URL: reqURL, Header: make(http.Header)}
			auth.Apply(req, "k")

			if tt.header != "" && req.Header.Get(tt.header) != tt.value {
				t.Errorf("Expected %s header '%s', got '%s'", tt.header, tt.value, req.Header.Get(tt.header))
			}
			if tt.query != "" && req.URL.Query().Get(tt.query) != "k" {
				t.Errorf("Expected query param %s=k, got '%s'", tt.query, req.URL.RawQuery)
			}
			if tt.scheme == "none" && len(req.Header) != 0 {
				t.Errorf("Expected no headers, got %d", len(req.Header))
			}
		})
	}
}
