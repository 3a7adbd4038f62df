package utils

import (
	"github.com/google/uuid"
)

// GenerateID generates a new UUID for generic identifiers
func GenerateID() string {
	return uuid.New().String()
}

// GenerateGrantID generates a unique consent grant ID
func GenerateGrantID() string {
	return "GRANT-" + uuid.New().String()
}

// GenerateRecordID generates a unique record ID
func GenerateRecordID() string {
	return "REC-" + uuid.New().String()
}

// GenerateEventID generates a unique claim transition event ID
func GenerateEventID() string {
	return "CEVT-" + uuid.New().String()
}
