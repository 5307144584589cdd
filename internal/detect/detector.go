// Package detect implements the four anomaly-detection algorithms and the
// cycle engine that runs them together.
package detect

import (
	"context"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
)

// Detector is one detection algorithm. Run is stateless per call: it queries
// recent activity as of now, inserts zero or more monitoring events, and
// returns a structured sub-result. Errors are absorbed into the result
// (Success=false), never returned -- a failing algorithm must not block its
// siblings or the health snapshot.
type Detector interface {
	Type() models.EventType
	Run(ctx context.Context, now time.Time, cfg config.DetectionConfig) models.DetectionResult
}

// failedResult is the shared error-absorption path for all detectors.
func failedResult(t models.EventType, now time.Time, err error) models.DetectionResult {
	return models.DetectionResult{
		DetectionType: t,
		Success:       false,
		EventsCreated: 0,
		Error:         err.Error(),
		DetectedAt:    now,
	}
}
