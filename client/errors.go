package client

import (
	"fmt"

	ta "github.com/panyam/tokenauth"
)

// APIError is a non-2xx response from the server.
// errors.Is matches it against the tokenauth sentinel with the same code.
type APIError struct {
	Status int
	ta.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("tokenauth: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("tokenauth: HTTP %d", e.Status)
}

func (e *APIError) Is(target error) bool {
	t, ok := target.(*ta.AuthError)
	return ok && t.Code == e.Code
}
