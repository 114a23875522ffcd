package transport

import (
	"net/http"
	"strings"

	"github.com/agentstation/rallysync/pkg/errors"
)

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request, apiKey string)
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request, _ string) {
	// No authentication applied
}

// BearerAuth implements Bearer token authentication.
type BearerAuth struct{}

// Apply implements the Authenticator interface for BearerAuth.
func (a *BearerAuth) Apply(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

// HeaderAuth implements custom header authentication.
type HeaderAuth struct {
	Header string
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Apply(req *http.Request, apiKey string) {
	req.Header.Set(a.Header, apiKey)
}

// QueryAuth implements API key as query parameter authentication.
type QueryAuth struct {
	Param string
}

// Apply implements the Authenticator interface for QueryAuth.
func (a *QueryAuth) Apply(req *http.Request, apiKey string) {
	if req.URL == nil {
		return
	}

	// Parse existing query parameters
	query := req.URL.Query()
	query.Set(a.Param, apiKey)
	req.URL.RawQuery = query.Encode()
}

// MultiAuth applies several authenticators in order. Hosted PostgREST
// gateways expect the key both in an apikey header and as a bearer token.
type MultiAuth []Authenticator

// Apply implements the Authenticator interface for MultiAuth.
func (a MultiAuth) Apply(req *http.Request, apiKey string) {
	for _, auth := range a {
		auth.Apply(req, apiKey)
	}
}

// ParseAuth builds an authenticator from a configuration string:
// "none", "bearer", "header:<name>", "query:<param>" or "gateway"
// (apikey header plus bearer token).
func ParseAuth(scheme string) (Authenticator, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(scheme), ":")
	switch strings.ToLower(kind) {
	case "", "gateway":
		return MultiAuth{&HeaderAuth{Header: "apikey"}, &BearerAuth{}}, nil
	case "none":
		return &NoAuth{}, nil
	case "bearer":
		return &BearerAuth{}, nil
	case "header":
		if arg == "" {
			return nil, errors.NewValidationError("auth", scheme, "header auth requires a header name")
		}
		return &HeaderAuth{Header: arg}, nil
	case "query":
		if arg == "" {
			return nil, errors.NewValidationError("auth", scheme, "query auth requires a parameter name")
		}
		return &QueryAuth{Param: arg}, nil
	}
	return nil, errors.NewValidationError("auth", scheme, "must be one of none, bearer, header:<name>, query:<param>, gateway")
}
