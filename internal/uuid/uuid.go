// Package uuid provides record id generation and validation utilities.
//
// Record ids are UUID v7 (time-ordered with random tail), so ids sort
// roughly by creation time and collisions are negligible without any
// coordination between devices.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// New generates a new record id.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4.
		return uuid.New().String()
	}
	return id.String()
}

// IsValid checks if a string is a well-formed UUID.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Validate returns an error if the string is not a well-formed UUID.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid record id: %q", s)
	}
	return nil
}
