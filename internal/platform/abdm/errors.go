package abdm

import (
	"errors"
	"fmt"
)

// UpstreamError is the single error family for failed gateway calls:
// non-2xx responses, transport failures, and timeouts all land here so
// callers have one taxonomy regardless of failure mode. Status is 0 when
// the request never produced an HTTP response.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("abdm: %s: %s", e.Op, e.Body)
	}
	return fmt.Sprintf("abdm: %s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

// AuthError is returned when the service-level session exchange fails.
// It carries the upstream status and body for operator diagnosis.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("abdm: session exchange failed: %s", e.Body)
	}
	return fmt.Sprintf("abdm: session exchange failed: status %d: %s", e.Status, e.Body)
}

// AsUpstreamError unwraps err into an *UpstreamError if it is one.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
