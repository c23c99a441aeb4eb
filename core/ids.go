package core

import "github.com/google/uuid"

// NewID returns a new globally unique identifier for calls, instances and
// sessions.
func NewID() string {
	return uuid.NewString()
}
