package validator

import (
	"encoding/base64"
	"reflect"
	"strings"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the proctoring custom tags.
type Validator struct {
	structValidator *validator.Validate
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator: structValidator,
	}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.structValidator.Struct(s)
}

// Validate validates s and converts tag failures into ValidationErrors.
func (v *Validator) Validate(s interface{}) error {
	err := v.ValidateStruct(s)
	if err == nil {
		return nil
	}
	if translated := ToValidationErrors(err); len(translated) > 0 {
		return translated
	}
	return err
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("violation_type", validateViolationType)
	validate.RegisterValidation("termination_reason", validateTerminationReason)
	validate.RegisterValidation("strictness", validateStrictness)
	validate.RegisterValidation("user_role", validateUserRole)
	validate.RegisterValidation("image_data", validateImageData)

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateViolationType(fl validator.FieldLevel) bool {
	return models.ViolationType(fl.Field().String()).IsKnown()
}

func validateTerminationReason(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case models.EndReasonExcessiveViolations,
		models.EndReasonWebcamDisabled,
		models.EndReasonUnauthorizedApplication,
		models.EndReasonManualTermination:
		return true
	}
	return false
}

func validateStrictness(fl validator.FieldLevel) bool {
	switch models.Strictness(fl.Field().String()) {
	case models.StrictnessLow, models.StrictnessMedium, models.StrictnessHigh:
		return true
	}
	return false
}

func validateUserRole(fl validator.FieldLevel) bool {
	validRoles := []models.UserRole{
		models.RoleStudent,
		models.RoleTeacher,
		models.RoleInstructor,
		models.RoleProctor,
		models.RoleAdmin,
	}

	value := fl.Field().String()
	for _, validRole := range validRoles {
		if string(validRole) == value {
			return true
		}
	}
	return false
}

// validateImageData accepts either a data URL or bare base64.
func validateImageData(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if strings.HasPrefix(value, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 || !strings.Contains(value[:comma], ";base64") {
			return false
		}
		value = value[comma+1:]
	}
	if value == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(value)
	return err == nil
}
