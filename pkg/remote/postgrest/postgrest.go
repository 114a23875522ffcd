// Package postgrest implements remote.Remote over a PostgREST HTTP API.
//
// Filters are rendered with Encode into PostgREST's horizontal filtering
// syntax, row counts come from the Content-Range header when the first
// page asks for them, and error bodies are decoded so that a Postgres
// unique violation (SQLSTATE 23505) surfaces as a conflict.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/internal/transport"
	"github.com/agentstation/rallysync/pkg/document"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/query"
	"github.com/agentstation/rallysync/pkg/remote"
)

// Backend is the name reported in API errors.
const Backend = "postgrest"

var _ remote.Remote = (*Client)(nil)

// Client talks to one PostgREST endpoint.
type Client struct {
	baseURL string
	schema  string
	apiKey  string
	auth    transport.Authenticator
	timeout time.Duration
	hc      *http.Client
	http    *transport.Client
	logger  *zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the key applied by the authenticator.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithAuth sets how the API key is attached to requests. The default
// sends it both as an apikey header and as a bearer token.
func WithAuth(auth transport.Authenticator) Option {
	return func(c *Client) { c.auth = auth }
}

// WithSchema selects a non-default Postgres schema through the
// Accept-Profile and Content-Profile headers.
func WithSchema(schema string) Option {
	return func(c *Client) { c.schema = schema }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the PostgREST API rooted at baseURL, for
// example https://db.example.com/rest/v1.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.NewValidationError("remote_url", baseURL, "must be an absolute http(s) URL")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    transport.MultiAuth{&transport.HeaderAuth{Header: "apikey"}, &transport.BearerAuth{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		nop := zerolog.Nop()
		c.logger = &nop
	}
	c.http = transport.New(c.auth, c.apiKey)
	if c.hc != nil {
		c.http.WithHTTPClient(c.hc)
	}
	if c.timeout > 0 {
		c.http.WithTimeout(c.timeout)
	}
	return c, nil
}

// Query implements remote.Remote.
func (c *Client) Query(ctx context.Context, q query.Query) (remote.Page, error) {
	params, err := Encode(q)
	if err != nil {
		return remote.Page{}, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, q.Collection, params, nil)
	if err != nil {
		return remote.Page{}, err
	}
	if q.Count {
		req.Header.Set("Prefer", "count=exact")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return remote.Page{}, err
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		_ = resp.Body.Close()
		return remote.Page{Records: []document.Document{}, Total: parseTotal(resp.Header.Get("Content-Range"))}, nil
	}

	var records []document.Document
	if err := transport.DecodeResponse(resp, Backend, &records); err != nil {
		return remote.Page{}, err
	}
	if records == nil {
		records = []document.Document{}
	}

	total := remote.UnknownTotal
	if q.Count {
		total = parseTotal(resp.Header.Get("Content-Range"))
	}
	c.logger.Trace().
		Str("collection", q.Collection).
		Str("query", params.String()).
		Int("records", len(records)).
		Int("total", total).
		Msg("Fetched page")
	return remote.Page{Records: records, Total: total}, nil
}

// Insert implements remote.Remote.
func (c *Client) Insert(ctx context.Context, collection string, doc document.Document) (document.Document, error) {
	rows, err := c.mutate(ctx, http.MethodPost, collection, nil, doc)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return doc, nil
	}
	return rows[0], nil
}

// Update implements remote.Remote.
func (c *Client) Update(ctx context.Context, collection string, key remote.Key, doc document.Document) (document.Document, error) {
	rows, err := c.mutate(ctx, http.MethodPatch, collection, keyParams(key), doc)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewNotFoundError(collection, key.Value)
	}
	return rows[0], nil
}

// Delete implements remote.Remote.
func (c *Client) Delete(ctx context.Context, collection string, key remote.Key) error {
	rows, err := c.mutate(ctx, http.MethodDelete, collection, keyParams(key), nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.NewNotFoundError(collection, key.Value)
	}
	return nil
}

// mutate sends a write and asks PostgREST to echo the affected rows, so
// that an update or delete matching nothing can be told apart.
func (c *Client) mutate(ctx context.Context, method, collection string, params Params, doc document.Document) ([]document.Document, error) {
	var body []byte
	if doc != nil {
		var err error
		if body, err = json.Marshal(doc); err != nil {
			return nil, errors.WrapParse("json", collection, err)
		}
	}
	req, err := c.newRequest(ctx, method, collection, params, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var rows []document.Document
	if err := transport.DecodeResponse(resp, Backend, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) newRequest(ctx context.Context, method, collection string, params Params, body []byte) (*http.Request, error) {
	target := c.baseURL + "/" + url.PathEscape(collection)
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := transport.NewRequest(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if c.schema != "" {
		if method == http.MethodGet {
			req.Header.Set("Accept-Profile", c.schema)
		} else {
			req.Header.Set("Content-Profile", c.schema)
		}
	}
	return req, nil
}

func keyParams(key remote.Key) Params {
	return Params{{Key: key.Field, Value: "eq." + key.Value}}
}

// parseTotal reads the total from a Content-Range header such as
// "0-49/130" or "*/0". An unknown total ("*") yields -1.
func parseTotal(contentRange string) int {
	_, total, ok := strings.Cut(contentRange, "/")
	if !ok {
		return remote.UnknownTotal
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return remote.UnknownTotal
	}
	return n
}
