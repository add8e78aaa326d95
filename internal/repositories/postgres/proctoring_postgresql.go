package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/SAP-F-2025/proctoring-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProctoringPostgreSQL struct {
	db *gorm.DB
}

func NewProctoringPostgreSQL(db *gorm.DB) repositories.ProctoringRepository {
	return &ProctoringPostgreSQL{db: db}
}

func (p *ProctoringPostgreSQL) CreateSession(ctx context.Context, session *models.ProctoringSession) error {
	if session.Counters == nil {
		counters, err := json.Marshal(models.ViolationCounters{})
		if err != nil {
			return err
		}
		session.Counters = datatypes.JSON(counters)
	}
	return p.db.WithContext(ctx).Create(session).Error
}

func (p *ProctoringPostgreSQL) GetSession(ctx context.Context, sessionID string) (*models.ProctoringSession, error) {
	var session models.ProctoringSession
	if err := p.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (p *ProctoringPostgreSQL) GetLatestSessionByAttempt(ctx context.Context, testSessionID string) (*models.ProctoringSession, error) {
	var session models.ProctoringSession
	if err := p.db.WithContext(ctx).
		Where("test_session_id = ?", testSessionID).
		Order("start_time DESC").
		First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (p *ProctoringPostgreSQL) UpdateWebcamStatus(ctx context.Context, sessionID string, enabled bool) error {
	return p.db.WithContext(ctx).
		Model(&models.ProctoringSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"webcam_enabled": enabled,
			"updated_at":     time.Now(),
		}).Error
}

func (p *ProctoringPostgreSQL) EndSession(ctx context.Context, end repositories.SessionEnd) error {
	result := p.db.WithContext(ctx).
		Model(&models.ProctoringSession{}).
		Where("session_id = ?", end.SessionID).
		Updates(map[string]interface{}{
			"status":          end.Status,
			"end_time":        end.EndTime,
			"end_reason":      end.EndReason,
			"integrity_score": end.IntegrityScore,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("end session %s: %w", end.SessionID, gorm.ErrRecordNotFound)
	}
	return nil
}

func (p *ProctoringPostgreSQL) CreateViolation(ctx context.Context, violation *models.ProctoringViolation, totals repositories.SessionTotals) error {
	counters, err := json.Marshal(totals.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(violation).Error; err != nil {
			return err
		}

		return tx.Model(&models.ProctoringSession{}).
			Where("session_id = ?", violation.SessionID).
			Updates(map[string]interface{}{
				"total_violations": totals.TotalViolations,
				"counters":         datatypes.JSON(counters),
				"updated_at":       time.Now(),
			}).Error
	})
}

func (p *ProctoringPostgreSQL) ListViolations(ctx context.Context, sessionID string) ([]*models.ProctoringViolation, error) {
	var violations []*models.ProctoringViolation
	if err := p.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&violations).Error; err != nil {
		return nil, err
	}
	return violations, nil
}

func (p *ProctoringPostgreSQL) CreateScreenshot(ctx context.Context, screenshot *models.ProctoringScreenshot) error {
	return p.db.WithContext(ctx).Create(screenshot).Error
}

func (p *ProctoringPostgreSQL) CountScreenshots(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := p.db.WithContext(ctx).
		Model(&models.ProctoringScreenshot{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (p *ProctoringPostgreSQL) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(
		&models.ProctoringSession{},
		&models.ProctoringViolation{},
		&models.ProctoringScreenshot{},
	)
}
