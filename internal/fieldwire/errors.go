package fieldwire

import (
	"errors"
	"fmt"
)

// AuthError reports a failed credential exchange. It is the only error the
// list operations let escape; the orchestrator abandons the cycle on it.
type AuthError struct {
	Status int // 0 when no response was received
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fieldwire auth failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("fieldwire auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusError is a non-2xx response from the data API.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.Status, e.Method, e.Path, e.Body)
}
