// Package idgen mints connection and correlation ids, grounded on
// bassosimone-nop's spanid.go (a single wrapper function around
// github.com/google/uuid, used the same way in that pack wherever a
// span needed a fresh identity).
package idgen

import "github.com/google/uuid"

// New returns a fresh globally-unique id suitable for a connection_id or
// correlation_id.
func New() string {
	return uuid.NewString()
}
