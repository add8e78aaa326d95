package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"gorm.io/gorm"
)

// ProctoringRepository is the durable, write-mostly log of proctoring sessions.
// It never originates mutations; the live state is owned by the service layer.
type ProctoringRepository interface {
	// Session records
	CreateSession(ctx context.Context, session *models.ProctoringSession) error
	GetSession(ctx context.Context, sessionID string) (*models.ProctoringSession, error)
	GetLatestSessionByAttempt(ctx context.Context, testSessionID string) (*models.ProctoringSession, error)
	UpdateWebcamStatus(ctx context.Context, sessionID string, enabled bool) error
	EndSession(ctx context.Context, end SessionEnd) error

	// Violation log. Inserting a violation also updates the session's running
	// total in the same transaction.
	CreateViolation(ctx context.Context, violation *models.ProctoringViolation, totals SessionTotals) error
	ListViolations(ctx context.Context, sessionID string) ([]*models.ProctoringViolation, error)

	// Evidence
	CreateScreenshot(ctx context.Context, screenshot *models.ProctoringScreenshot) error
	CountScreenshots(ctx context.Context, sessionID string) (int64, error)

	// Schema
	Migrate(ctx context.Context) error
}

type SessionTotals struct {
	TotalViolations int
	Counters        models.ViolationCounters
}

type SessionEnd struct {
	SessionID      string
	Status         models.SessionStatus
	EndTime        time.Time
	EndReason      string
	IntegrityScore int
}

// IsNotFoundError reports whether err is gorm's record-not-found.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
