package scheduler

import "github.com/kiranshivaraju/autopost/pkg/models"

// Aggregate reduces per-target results to a terminal job status: completed
// when every target succeeded, failed when none did (or there were no
// results at all), partial otherwise.
func Aggregate(results []models.TargetResult) models.Status {
	succeeded := 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		}
	}

	switch {
	case len(results) == 0 || succeeded == 0:
		return models.StatusFailed
	case succeeded == len(results):
		return models.StatusCompleted
	default:
		return models.StatusPartial
	}
}
