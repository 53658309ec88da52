package ims

import (
	"context"
	"time"

	"github.com/ssdims/ssdims/pkg/types"
)

// API is the subset of the SSD IMS portal used to pull profile data.
type API interface {
	// Authenticate logs in with the given credentials and remembers them for
	// transparent re-login. Rejected credentials return false with a nil error.
	Authenticate(ctx context.Context, username, password string) (bool, error)

	// Login authenticates with the remembered credentials.
	Login(ctx context.Context) (bool, error)

	// Authenticated reports whether the client currently holds a session.
	Authenticated() bool

	// ListPointsOfDelivery returns the points of delivery visible to the
	// account. Session handles in the result are only valid until the next
	// login.
	ListPointsOfDelivery(ctx context.Context) ([]types.PointOfDeliveryEntry, error)

	// GetIntervalReadings returns the 15-minute profile data between from and
	// to for the point identified by handle.
	GetIntervalReadings(ctx context.Context, handle string, from, to time.Time) (types.ReadingsResponse, error)

	// SessionEpoch increments on every successful login.
	SessionEpoch() uint64
}
