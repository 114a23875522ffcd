package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentstation/rallysync/pkg/errors"
)

// errorBody is the JSON error shape PostgREST and most REST gateways use.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// DecodeResponse decodes a 2xx JSON response into target (which may be
// nil) and converts any other status into an *errors.APIError.
func DecodeResponse(resp *http.Response, backend string, target any) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", "response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewAPIError(backend, resp, body)
	}

	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", "response", err)
	}
	return nil
}

// NewAPIError builds an API error from a non-2xx response and its body.
func NewAPIError(backend string, resp *http.Response, body []byte) *errors.APIError {
	apiErr := &errors.APIError{
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		apiErr.Endpoint = resp.Request.Method + " " + resp.Request.URL.Path
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && (eb.Code != "" || eb.Message != "") {
		apiErr.Code = eb.Code
		if eb.Message != "" {
			apiErr.Message = eb.Message
		}
		if eb.Details != "" {
			apiErr.Message += ": " + eb.Details
		}
	} else if len(body) > 0 {
		apiErr.Message = string(body)
	}
	return apiErr
}
