package intel

import "github.com/fluxline/fluxline/pkg/models"

// SeverityFor maps a classified failure to an incident severity. Pure
// function of (confidence, category, attempt number).
func SeverityFor(confidence float64, category models.FailureCategory, attemptNumber int) models.Severity {
	switch {
	case confidence > 0.8 && category == models.FailureDataQuality:
		return models.SeverityCritical
	case attemptNumber >= 3:
		return models.SeverityHigh
	case confidence < 0.5:
		return models.SeverityMedium
	default:
		return models.SeverityMedium
	}
}
