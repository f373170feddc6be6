package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a short unique id with a prefix
func GenerateID(prefix string) string {
	id := uuid.New().String()
	return fmt.Sprintf("%s-%s", prefix, id[:8])
}

// GenerateReference returns prefix-XXXXXXXX with 8 uppercase hex characters
func GenerateReference(prefix string) string {
	return strings.ToUpper(GenerateID(prefix))
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}
