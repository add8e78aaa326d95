package errors

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestValidationError(t *testing.T) {
	// Test NewValidationError
	err := NewValidationError("test_field", "test message", "test_value")

	if err.Field != "test_field" {
		t.Errorf("Expected field to be 'test_field', got '%s'", err.Field)
	}

	if err.Message != "test message" {
		t.Errorf("Expected message to be 'test message', got '%s'", err.Message)
	}

	if err.Value != "test_value" {
		t.Errorf("Expected value to be 'test_value', got '%v'", err.Value)
	}

	// Test Error method
	expected := "validation error on field 'test_field': test message"
	if err.Error() != expected {
		t.Errorf("Expected error message to be '%s', got '%s'", expected, err.Error())
	}
}

func TestValidationErrors(t *testing.T) {
	// Test empty ValidationErrors
	var errs ValidationErrors
	if errs.Error() != "validation failed" {
		t.Errorf("Expected 'validation failed' for empty errors, got '%s'", errs.Error())
	}

	// Test single ValidationError
	errs = append(errs, *NewValidationError("field1", "message1", nil))
	expected := "validation failed: field1 message1"
	if errs.Error() != expected {
		t.Errorf("Expected '%s' for single error, got '%s'", expected, errs.Error())
	}

	// Test multiple ValidationErrors
	errs = append(errs, *NewValidationError("field2", "message2", nil))
	expected = "validation failed: 2 field errors"
	if errs.Error() != expected {
		t.Errorf("Expected '%s' for multiple errors, got '%s'", expected, errs.Error())
	}
}

func TestNewValidationErrorWithRule(t *testing.T) {
	err := NewValidationErrorWithRule("test_field", "test message", "required", "test_value")

	if err.Rule != "required" {
		t.Errorf("Expected rule to be 'required', got '%s'", err.Rule)
	}

	if err.Field != "test_field" {
		t.Errorf("Expected field to be 'test_field', got '%s'", err.Field)
	}
}

func TestToValidationErrors_CustomMessages(t *testing.T) {
	type payload struct {
		Reason string `validate:"required"`
	}

	errs := ToValidationErrors(validator.New().Struct(payload{}))
	if len(errs) != 1 {
		t.Fatalf("Expected 1 validation error, got %d", len(errs))
	}
	if errs[0].Message != "is required" {
		t.Errorf("Expected message 'is required', got '%s'", errs[0].Message)
	}
	if errs[0].Rule != "required" {
		t.Errorf("Expected rule 'required', got '%s'", errs[0].Rule)
	}

	if got := ToValidationErrors(nil); len(got) != 0 {
		t.Errorf("Expected no errors for nil input, got %d", len(got))
	}
}

func TestToValidationErrors_GenericRules(t *testing.T) {
	type payload struct {
		Code    string `validate:"len=6"`
		Contact string `validate:"email"`
		Seats   string `validate:"numeric"`
		Name    string `validate:"alpha"`
		Level   string `validate:"oneof=low high"`
		Pattern string `validate:"startswith=proctoring"`
	}

	errs := ToValidationErrors(validator.New().Struct(payload{
		Code: "abc", Contact: "nobody", Seats: "ten", Name: "a1", Level: "mid", Pattern: "x",
	}))

	want := map[string]string{
		"Code":    "must be exactly 6 long",
		"Contact": "must be a valid email address",
		"Seats":   "must be numeric",
		"Name":    "must contain only letters",
		"Level":   "must be one of: low high",
		"Pattern": "validation failed for rule 'startswith'",
	}
	if len(errs) != len(want) {
		t.Fatalf("Expected %d validation errors, got %d", len(want), len(errs))
	}
	for _, e := range errs {
		if e.Message != want[e.Field] {
			t.Errorf("Field %s: expected message '%s', got '%s'", e.Field, want[e.Field], e.Message)
		}
	}
}
