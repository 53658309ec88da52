package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthentication means the portal session is invalid or the credentials
	// were rejected. It is never retried within a cycle.
	ErrAuthentication = errors.New("authentication failed")

	// ErrEmptyResult means discovery returned no usable points of delivery.
	ErrEmptyResult = errors.New("no points of delivery found")

	// ErrStaleHandle means the portal session was renewed while a request
	// carried a point of delivery handle from the previous session. The handle
	// must be resolved again before retrying.
	ErrStaleHandle = errors.New("point of delivery handle belongs to an expired session")

	// ErrMalformedIdentifier means a display label did not contain a stable
	// identifier.
	ErrMalformedIdentifier = errors.New("malformed point of delivery identifier")
)

// TransientFetchError is a failed fetch of one day for one point.
type TransientFetchError struct {
	PointID string
	Day     time.Time
	Err     error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s for %s: %v", e.Day.Format("2006-01-02"), e.PointID, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}
