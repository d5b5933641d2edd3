package util

import "github.com/google/uuid"

// NewID returns a fresh opaque identifier for books, resources, and
// temporary publish directories.
func NewID() string {
	return uuid.NewString()
}
