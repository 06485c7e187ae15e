package jsonrpc2

import "github.com/google/uuid"

// IDGenerator produces a unique string for each outbound request this
// endpoint issues. Implementations must be unique over the endpoint's
// lifetime; they need not be unguessable or cryptographically secure.
type IDGenerator func() string

// DefaultIDGenerator renders a random UUIDv4 as a string, matching the
// "random 128-bit value rendered as a string" default this library
// specifies for request ids.
func DefaultIDGenerator() string {
	return uuid.NewString()
}
