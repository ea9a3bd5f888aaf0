package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func ProjectBackupKey(projectID uuid.UUID) string {
	return fmt.Sprintf("backup:project:%s", projectID)
}
