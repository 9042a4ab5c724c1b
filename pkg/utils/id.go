package utils

import (
	"github.com/google/uuid"
)

// GenerateID returns a random (v4) UUID string used for every server-assigned id
func GenerateID() string {
	return uuid.New().String()
}
