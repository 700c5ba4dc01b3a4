package provider

import "fmt"

// AuthError indicates the secret pair was rejected or the token endpoint
// was unreachable.
type AuthError struct {
	HTTPStatus int
	Message    string
}

func (e *AuthError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("provider authentication failed: %s", e.Message)
	}
	return fmt.Sprintf("provider authentication failed (status %d): %s", e.HTTPStatus, e.Message)
}

// APIError indicates a non-200 response from an authenticated provider call.
type APIError struct {
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("provider request failed: %s", e.Message)
	}
	return fmt.Sprintf("provider request failed (status %d): %s", e.HTTPStatus, e.Message)
}
