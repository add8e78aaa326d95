package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
)

// ServiceLogger provides structured logging for service layer operations
type ServiceLogger struct {
	logger *slog.Logger
	config LogConfig
}

type LogConfig struct {
	Service     string
	Component   string
	EnableDebug bool
}

func NewServiceLogger(logger *slog.Logger, config LogConfig) *ServiceLogger {
	return &ServiceLogger{
		logger: logger.With("service", config.Service, "component", config.Component),
		config: config,
	}
}

// ===== OPERATION LOGGING =====

func (l *ServiceLogger) LogOperation(ctx context.Context, operation, userID, testSessionID string, duration time.Duration, err error) {
	level := slog.LevelDebug
	status := "success"

	if err != nil {
		level = slog.LevelError
		status = "error"

		// Adjust log level based on error type
		switch {
		case IsValidation(err):
			level = slog.LevelWarn
			status = "validation_error"
		case IsNotFound(err):
			level = slog.LevelInfo
			status = "not_found"
		case IsConflict(err):
			level = slog.LevelWarn
			status = "conflict"
		}
	}

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("test_session_id", testSessionID),
		slog.String("status", status),
		slog.Duration("duration", duration),
	}
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		if validationErr, ok := err.(ValidationErrors); ok {
			attrs = append(attrs, slog.Int("validation_errors_count", len(validationErr)))
		} else if persistErr, ok := err.(*PersistenceError); ok {
			attrs = append(attrs, slog.String("persistence_operation", persistErr.Operation))
		}

		// Caller information for storage failures
		if IsPersistence(err) {
			if pc, file, line, ok := runtime.Caller(2); ok {
				if fn := runtime.FuncForPC(pc); fn != nil {
					attrs = append(attrs,
						slog.String("caller_func", fn.Name()),
						slog.String("caller_file", file),
						slog.Int("caller_line", line),
					)
				}
			}
		}
	}

	if level == slog.LevelDebug && !l.config.EnableDebug {
		return
	}
	l.logger.LogAttrs(ctx, level, fmt.Sprintf("%s operation %s", operation, status), attrs...)
}

// ===== SECURITY LOGGING =====

// LogViolation records a proctoring violation as a security event. High
// severity violations are logged at error level.
func (l *ServiceLogger) LogViolation(ctx context.Context, userID, testSessionID string, violation *models.ProctoringViolation) {
	level := slog.LevelWarn
	if violation.Severity == models.SeverityHigh {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("security_event", "proctoring_violation"),
		slog.String("violation_id", violation.ViolationID),
		slog.String("violation_type", string(violation.ViolationType)),
		slog.String("severity", string(violation.Severity)),
		slog.String("user_id", userID),
		slog.String("test_session_id", testSessionID),
		slog.Time("timestamp", violation.CreatedAt),
	}

	if len(violation.Metadata) > 0 {
		var metadata map[string]interface{}
		if err := json.Unmarshal(violation.Metadata, &metadata); err == nil {
			for key, value := range sanitizeMap(metadata) {
				attrs = append(attrs, slog.Any(fmt.Sprintf("meta_%s", key), value))
			}
		}
	}

	l.logger.LogAttrs(ctx, level, fmt.Sprintf("Security: %s", violation.ViolationType), attrs...)
}

// ===== MIDDLEWARE AND HELPERS =====

// ContextualLogger wraps operations with automatic logging
type ContextualLogger struct {
	logger        *ServiceLogger
	operation     string
	userID        string
	testSessionID string
	startTime     time.Time
	ctx           context.Context
}

func (l *ServiceLogger) WithOperation(ctx context.Context, operation, userID, testSessionID string) *ContextualLogger {
	return &ContextualLogger{
		logger:        l,
		operation:     operation,
		userID:        userID,
		testSessionID: testSessionID,
		startTime:     time.Now(),
		ctx:           ctx,
	}
}

func (cl *ContextualLogger) LogResult(err error) {
	cl.logger.LogOperation(cl.ctx, cl.operation, cl.userID, cl.testSessionID, time.Since(cl.startTime), err)
}

// SanitizeForLogging removes sensitive information from data before logging
func SanitizeForLogging(data interface{}) interface{} {
	if data == nil {
		return nil
	}

	switch v := data.(type) {
	case string:
		return sanitizeString(v)
	case map[string]interface{}:
		return sanitizeMap(v)
	case []interface{}:
		return sanitizeSlice(v)
	default:
		return data
	}
}

func sanitizeString(s string) string {
	if strings.HasPrefix(s, "data:") {
		return "[IMAGE DATA]"
	}
	return s
}

func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	sensitiveKeys := []string{"password", "token", "secret", "auth", "credential", "imagedata"}

	for k, v := range m {
		lowerK := strings.ToLower(k)
		sensitive := false

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(lowerK, sensitiveKey) {
				sensitive = true
				break
			}
		}

		if sensitive {
			result[k] = "[REDACTED]"
		} else {
			result[k] = SanitizeForLogging(v)
		}
	}

	return result
}

func sanitizeSlice(s []interface{}) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		result[i] = SanitizeForLogging(v)
	}
	return result
}
