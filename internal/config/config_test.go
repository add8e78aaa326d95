package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/events"
	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "header", cfg.Auth.Mode)
	assert.Equal(t, "proctoring-events", cfg.Events.ProctoringTopic)
	assert.Equal(t, models.StrictnessMedium, cfg.Proctoring.Strictness)
	assert.Equal(t, 3, cfg.Proctoring.Thresholds.TabSwitchWarning)
	assert.Equal(t, 5, cfg.Proctoring.Thresholds.TabSwitchMaximum)
	assert.Equal(t, 10, cfg.Proctoring.Thresholds.NoFaceMaximum)
	assert.Equal(t, 4*time.Hour, cfg.Proctoring.MaxSessionDuration)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PROCTORING_STRICTNESS", "high")
	t.Setenv("TAB_SWITCH_MAXIMUM", "4")
	t.Setenv("REWARN_EVERY", "2")
	t.Setenv("MAX_SESSION_DURATION", "90m")
	t.Setenv("ALLOWED_ORIGINS", "https://learnhub.example, https://admin.learnhub.example")
	t.Setenv("DEFAULT_LOCALE", "en")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, models.StrictnessHigh, cfg.Proctoring.Strictness)
	assert.Equal(t, 2, cfg.Proctoring.Thresholds.TabSwitchWarning)
	assert.Equal(t, 4, cfg.Proctoring.Thresholds.TabSwitchMaximum)
	assert.Equal(t, 2, cfg.Proctoring.Thresholds.RewarnEvery)
	assert.Equal(t, 90*time.Minute, cfg.Proctoring.MaxSessionDuration)
	assert.Equal(t, []string{"https://learnhub.example", "https://admin.learnhub.example"}, cfg.AllowedOrigins)

	svc := cfg.ServiceConfig()
	assert.Equal(t, models.StrictnessHigh, svc.DefaultStrictness)
	assert.Equal(t, 4, svc.Profiles[models.StrictnessHigh].TabSwitchMaximum)
	assert.Equal(t, 5, svc.Profiles[models.StrictnessMedium].TabSwitchMaximum)
	assert.Equal(t, "en", svc.DefaultLocale)
}

func TestLoadConfig_RejectsUnknownModes(t *testing.T) {
	t.Setenv("PROCTORING_STRICTNESS", "paranoid")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("PROCTORING_STRICTNESS", "")
	t.Setenv("AUTH_MODE", "ldap")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_ProductionAuth(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "casdoor", cfg.Auth.Mode)
	assert.True(t, cfg.IsProduction())

	t.Setenv("AUTH_MODE", "header")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestEventConfig_CreateEventPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	disabled := &EventConfig{Enabled: false, Publisher: "kafka"}
	publisher, err := disabled.CreateEventPublisher(logger)
	require.NoError(t, err)
	assert.IsType(t, &events.MockEventPublisher{}, publisher)

	unknown := &EventConfig{Enabled: true, Publisher: "rabbit"}
	publisher, err = unknown.CreateEventPublisher(logger)
	require.NoError(t, err)
	assert.IsType(t, &events.MockEventPublisher{}, publisher)

	brokers := &EventConfig{KafkaBrokers: "k1:9092, k2:9092,"}
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, brokers.GetKafkaBrokers())
}
