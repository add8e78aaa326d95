package services

import "github.com/SAP-F-2025/proctoring-service/internal/models"

// Thresholds are the per-type counts at which a session is warned and
// terminated. A zero maximum means the type never terminates on its own.
type Thresholds struct {
	TabSwitchWarning          int `json:"tabSwitchWarning"`
	TabSwitchMaximum          int `json:"tabSwitchMaximum"`
	MultipleFacesWarning      int `json:"multipleFacesWarning"`
	MultipleFacesMaximum      int `json:"multipleFacesMaximum"`
	NoFaceWarning             int `json:"noFaceWarning"`
	NoFaceMaximum             int `json:"noFaceMaximum"`
	SuspiciousMovementWarning int `json:"suspiciousMovementWarning"`

	// RewarnEvery re-issues a warning every N violations past the warning
	// threshold. Zero warns only when the threshold is first reached.
	RewarnEvery int `json:"rewarnEvery"`
}

// DefaultThresholds is the medium strictness profile.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TabSwitchWarning:          3,
		TabSwitchMaximum:          5,
		MultipleFacesWarning:      2,
		MultipleFacesMaximum:      5,
		NoFaceWarning:             5,
		NoFaceMaximum:             10,
		SuspiciousMovementWarning: 10,
	}
}

// DefaultProfiles returns the threshold profile for every strictness level.
func DefaultProfiles() map[models.Strictness]Thresholds {
	return map[models.Strictness]Thresholds{
		models.StrictnessLow: {
			TabSwitchWarning:          5,
			TabSwitchMaximum:          8,
			MultipleFacesWarning:      3,
			MultipleFacesMaximum:      8,
			NoFaceWarning:             8,
			NoFaceMaximum:             15,
			SuspiciousMovementWarning: 15,
		},
		models.StrictnessMedium: DefaultThresholds(),
		models.StrictnessHigh: {
			TabSwitchWarning:          2,
			TabSwitchMaximum:          3,
			MultipleFacesWarning:      1,
			MultipleFacesMaximum:      3,
			NoFaceWarning:             3,
			NoFaceMaximum:             6,
			SuspiciousMovementWarning: 6,
		},
	}
}

func (t Thresholds) warningAt(violationType models.ViolationType) int {
	switch violationType {
	case models.ViolationTabSwitch:
		return t.TabSwitchWarning
	case models.ViolationMultipleFaces:
		return t.MultipleFacesWarning
	case models.ViolationNoFaceDetected:
		return t.NoFaceWarning
	case models.ViolationSuspiciousMovement:
		return t.SuspiciousMovementWarning
	}
	return 0
}

// ShouldWarn reports whether the count just reached for a type triggers a warning.
func (t Thresholds) ShouldWarn(violationType models.ViolationType, count int) bool {
	threshold := t.warningAt(violationType)
	if threshold <= 0 || count < threshold {
		return false
	}
	if count == threshold {
		return true
	}
	return t.RewarnEvery > 0 && (count-threshold)%t.RewarnEvery == 0
}

// ShouldTerminate evaluates the independent hard ceilings.
func (t Thresholds) ShouldTerminate(counters models.ViolationCounters) bool {
	return exceeds(counters.TabSwitches, t.TabSwitchMaximum) ||
		exceeds(counters.MultipleFaces, t.MultipleFacesMaximum) ||
		exceeds(counters.NoFaceDetected, t.NoFaceMaximum)
}

func exceeds(count, maximum int) bool {
	return maximum > 0 && count >= maximum
}
