// Package utils holds small helpers shared across the replicator's
// components.
package utils

import "github.com/google/uuid"

// UUID returns a random version-4 UUID string for use as a correlation id.
func UUID() string {
	return uuid.NewString()
}
