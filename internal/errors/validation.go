package errors

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

func (pe *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", pe.Field, pe.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewValidationErrorWithRule creates a new validation error with rule
func NewValidationErrorWithRule(field, message, rule string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Rule:    rule,
	}
}

// ToValidationErrors converts validator.ValidationErrors to our custom type
func ToValidationErrors(err error) ValidationErrors {
	var errors ValidationErrors

	if validatorErr, ok := err.(validator.ValidationErrors); ok {
		for _, err := range validatorErr {
			errors = append(errors, ValidationError{
				Field:   err.Field(),
				Message: getErrorMessage(err),
				Value:   err.Value(),
				Rule:    err.Tag(),
			})
		}
	}

	return errors
}

// ruleMessages covers rules whose message does not depend on a parameter.
var ruleMessages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email address",
	"uuid":     "must be a valid UUID",
	"numeric":  "must be numeric",
	"alpha":    "must contain only letters",
	"alphanum": "must contain only letters and numbers",
	"url":      "must be a valid URL",

	"violation_type":     "must be a known violation type (tab_switch, multiple_faces, no_face_detected, suspicious_movement, webcam_disabled, webcam_error, unauthorized_application, right_click_attempt, keyboard_shortcut_attempt, developer_tools_attempt)",
	"termination_reason": "must be a valid termination reason (excessive_violations, webcam_disabled, unauthorized_application, manual_termination)",
	"strictness":         "must be low, medium, or high",
	"user_role":          "must be a valid user role (student, teacher, instructor, proctor, admin)",
	"image_data":         "must be a base64 image or data URL",
}

// getErrorMessage returns user-friendly error messages
func getErrorMessage(err validator.FieldError) string {
	if msg, ok := ruleMessages[err.Tag()]; ok {
		return msg
	}

	switch err.Tag() {
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s long", err.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
