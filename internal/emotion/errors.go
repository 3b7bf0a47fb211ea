package emotion

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when a remote provider is built without a key.
	ErrNoAPIKey = errors.New("emotion: API key required")

	// ErrNoEmotion is returned when a reply carries no emotion label.
	ErrNoEmotion = errors.New("emotion: reply has no emotion label")

	// ErrEmptyImage is returned for an empty image payload.
	ErrEmptyImage = errors.New("emotion: empty image")
)

// APIError is an error response from a remote provider.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("emotion [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("emotion [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the request may succeed when repeated
// (rate limited or server side failure).
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}
