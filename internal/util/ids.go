package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID generates a short random id for persisted rows.
func NewID() (string, error) {
	return gonanoid.New()
}

// MustNewID generates a short random id and panics on failure. Nanoid only
// fails when the system's entropy source is broken.
func MustNewID() string {
	return gonanoid.Must()
}
