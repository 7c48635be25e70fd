package app

import "github.com/google/uuid"

// newExternalID produces the correlation id for tenants created without one.
// Isolated here so the ID strategy can evolve independently.
func newExternalID() string {
	return uuid.NewString()
}
