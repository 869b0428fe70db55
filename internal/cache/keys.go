package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// CycleReportKey holds the last scheduler report for an owner scope.
// uuid.Nil (every owner) is stored under "all".
func CycleReportKey(ownerID uuid.UUID) string {
	if ownerID == uuid.Nil {
		return "scheduler:report:all"
	}
	return fmt.Sprintf("scheduler:report:%s", ownerID)
}
