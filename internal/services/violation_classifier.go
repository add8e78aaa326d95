package services

import (
	"github.com/SAP-F-2025/proctoring-service/internal/i18n"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

var severityTable = map[models.ViolationType]models.Severity{
	models.ViolationMultipleFaces:           models.SeverityHigh,
	models.ViolationWebcamDisabled:          models.SeverityHigh,
	models.ViolationUnauthorizedApplication: models.SeverityHigh,
	models.ViolationTabSwitch:               models.SeverityMedium,
	models.ViolationNoFaceDetected:          models.SeverityMedium,
	models.ViolationSuspiciousMovement:      models.SeverityLow,
}

// SeverityOf classifies a violation type. Types without an entry are low
// so that an unexpected client signal never escalates on its own.
func SeverityOf(violationType models.ViolationType) models.Severity {
	if severity, ok := severityTable[violationType]; ok {
		return severity
	}
	return models.SeverityLow
}

// DescriptionOf returns the localized description of a violation type,
// or the generic fallback for unknown types.
func DescriptionOf(violationType models.ViolationType, locale string) string {
	if text, ok := i18n.Text(locale, "description."+string(violationType)); ok {
		return text
	}
	text, _ := i18n.Text(locale, "description.unknown")
	return text
}

// WarningMessage renders the student-facing warning for a type at count.
// Tab-switch warnings also carry the termination maximum.
func WarningMessage(violationType models.ViolationType, count, tabSwitchMaximum int, locale string) string {
	key := "warning." + string(violationType)
	var (
		text string
		ok   bool
	)
	if violationType == models.ViolationTabSwitch {
		text, ok = i18n.Text(locale, key, count, tabSwitchMaximum)
	} else {
		text, ok = i18n.Text(locale, key, count)
	}
	if !ok {
		text, _ = i18n.Text(locale, "warning.unknown")
	}
	return text
}

func TerminationMessage(reason, locale string) string {
	if text, ok := i18n.Text(locale, "termination."+reason); ok {
		return text
	}
	text, _ := i18n.Text(locale, "termination.unknown")
	return text
}

// integrityDeduction is the score penalty for one violation of the given severity.
func integrityDeduction(severity models.Severity) int {
	switch severity {
	case models.SeverityHigh:
		return 15
	case models.SeverityMedium:
		return 10
	default:
		return 5
	}
}
