package bars

import (
	"math"
	"regexp"
	"strings"

	"github.com/tapline/tapline/internal/shared"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

func validateID(id string) error {
	if !slugPattern.MatchString(id) {
		return shared.NewValidationError("id", "must be a lowercase slug")
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return shared.NewValidationError("name", "is required")
	}
	if len(name) > 100 {
		return shared.NewValidationError("name", "too long")
	}
	return nil
}

func validateSettings(s Settings) error {
	if math.IsNaN(s.AgiosThreshold) || math.IsInf(s.AgiosThreshold, 0) {
		return shared.NewValidationError("agios_threshold", "must be finite")
	}
	if math.IsNaN(s.AgiosFactor) || math.IsInf(s.AgiosFactor, 0) || s.AgiosFactor < 0 {
		return shared.NewValidationError("agios_factor", "must be a finite non-negative number")
	}
	return nil
}
