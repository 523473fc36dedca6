// Package user implements the user & transfer manager (C7): connected-user
// tracking, transfer requests with timeout, and fallback resolution.
package user

import (
	"time"

	"github.com/google/uuid"
)

// LocationKind tags a User's current position: either actively connected to
// a server, or mid-transfer toward one.
type LocationKind int

const (
	LocationConnected LocationKind = iota
	LocationTransferring
)

// Location is the tagged union for where a user currently is.
type Location struct {
	Kind      LocationKind
	Server    uuid.UUID // LocationConnected: the server they're on
	Target    uuid.UUID // LocationTransferring: where they're headed
	StartedAt time.Time // LocationTransferring: for timeout eviction
}

// User is a connected end-user, tracked only while they hold a live
// location; there is no persistence of user records beyond the process
// lifetime (spec Non-goals).
type User struct {
	Name     string
	UUID     uuid.UUID
	Location Location
}
