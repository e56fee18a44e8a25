package trustgate

import (
	"encoding/json"
	"fmt"
)

// Sentinel errors returned by the SDK.
var (
	// ErrUnauthorized is returned when the server rejects the API key.
	ErrUnauthorized = fmt.Errorf("trustgate: API key rejected")

	// ErrRateLimited is returned when the server throttles the request.
	ErrRateLimited = fmt.Errorf("trustgate: rate limited")

	// ErrNoUser is returned by the middleware when no user identity is
	// found on the request.
	ErrNoUser = fmt.Errorf("trustgate: no user identity on request")

	// ErrPermissionDenied is returned by the middleware when the check
	// comes back disallowed.
	ErrPermissionDenied = fmt.Errorf("trustgate: permission denied")
)

// APIError represents an error response from the TrustGate API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trustgate: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// apiErrorWrapper matches the TrustGate API error envelope.
type apiErrorWrapper struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// flatError matches the middleware error shape, where the code sits
// directly under "error".
type flatError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       wrapper.Error.Code,
			Message:    wrapper.Error.Message,
		}
	}

	var flat flatError
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       flat.Error,
			Message:    flat.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr, true
	}
	return nil, false
}
