package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobViewKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:view:%s", jobID)
}

func RateLimitKey(name string) string {
	return fmt.Sprintf("ratelimit:%s", name)
}
