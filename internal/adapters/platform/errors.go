package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// PlatformError is a non-2xx answer from the payment platform.
type PlatformError struct {
	Code       string
	Message    string
	StatusCode int
}

type platformErrorResponse struct {
	Err     string `json:"error"`
	Message string `json:"error_message"`
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform error [%s]: %s (status: %d)", e.Code, e.Message, e.StatusCode)
}

// IsRetryable reports whether the request may succeed if sent again.
func (e *PlatformError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func IsPlatformError(err error) (*PlatformError, bool) {
	var platformErr *PlatformError
	ok := errors.As(err, &platformErr)
	return platformErr, ok
}
