package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for client-owned records (transcript turns,
// mutation attempts, request ids).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
