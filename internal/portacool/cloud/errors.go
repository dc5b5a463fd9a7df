package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain-specific errors for vendor cloud operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuth is returned when signing in or minting a token is rejected,
	// or the sign-in response carries no access token.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrTokenExtraction is returned when a token response has an
	// unexpected shape or the identity token lacks required claims.
	ErrTokenExtraction = errors.New("cloud: token extraction failed")

	// ErrCommand is returned when a datapoint invocation fails.
	ErrCommand = errors.New("cloud: command failed")

	// ErrTransport is returned for network failures and unexpected HTTP
	// statuses on read paths.
	ErrTransport = errors.New("cloud: transport failure")

	// ErrNoDevicesFound is returned by Setup when the account has no devices.
	ErrNoDevicesFound = errors.New("cloud: no devices found")

	// ErrNoDevice is returned when a device operation is attempted on a
	// client built without a device unique id.
	ErrNoDevice = errors.New("cloud: client has no device configured")
)

// HTTPError describes a non-2xx response from a cloud endpoint.
//
// Kind is one of the package sentinels and is what errors.Is matches,
// so callers can test the category and still read the status code.
type HTTPError struct {
	Op         string
	StatusCode int
	Kind       error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%v: %s returned HTTP %d", e.Kind, e.Op, e.StatusCode)
}

// Unwrap returns the error category.
func (e *HTTPError) Unwrap() error {
	return e.Kind
}

// IsUnauthorized reports whether the response rejected our credentials.
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// statusKind picks the error category for a failed response.
// 401 and 403 always mean the credential was rejected.
func statusKind(status int, fallback error) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return ErrAuth
	}
	return fallback
}

func newHTTPError(op string, status int, fallback error) *HTTPError {
	return &HTTPError{Op: op, StatusCode: status, Kind: statusKind(status, fallback)}
}
