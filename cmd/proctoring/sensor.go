package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/proctoring-service/internal/realtime"
	"github.com/SAP-F-2025/proctoring-service/internal/sensor"
	"github.com/SAP-F-2025/proctoring-service/internal/utils"
)

type sensorFlags struct {
	server    string
	attemptID string
	testID    string
	userID    string
	role      string
	token     string
	locale    string
	frames    string
	userAgent string
	interval  time.Duration
}

func newSensorCmd() *cobra.Command {
	var f sensorFlags

	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "Run a headless sensor loop against a proctoring server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSensor(ctx, cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.server, "server", "ws://localhost:8080/ws", "proctoring websocket URL")
	cmd.Flags().StringVar(&f.attemptID, "attempt", "", "test attempt id")
	cmd.Flags().StringVar(&f.testID, "test", "", "test id; starts the session when set")
	cmd.Flags().StringVar(&f.userID, "user", "", "student user id")
	cmd.Flags().StringVar(&f.role, "role", "student", "user role")
	cmd.Flags().StringVar(&f.token, "token", "", "access token (casdoor auth mode)")
	cmd.Flags().StringVar(&f.locale, "locale", "", "preferred locale for warnings")
	cmd.Flags().StringVar(&f.frames, "frames", "", "directory of JPEG frames used as the camera")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "proctoring-sensor", "user agent attached to reports")
	cmd.Flags().DurationVar(&f.interval, "detect-every", time.Second, "detection interval")
	_ = cmd.MarkFlagRequired("attempt")
	_ = cmd.MarkFlagRequired("frames")
	return cmd
}

func runSensor(ctx context.Context, cmd *cobra.Command, f sensorFlags) error {
	if f.userID == "" && f.token == "" {
		return errors.New("either --user or --token is required")
	}
	logger := utils.NewLogger("development", cmd.ErrOrStderr()).Slog()

	reporter, err := sensor.DialReporter(ctx, f.server, sensor.Handshake{
		UserID: f.userID,
		Role:   f.role,
		Token:  f.token,
		Locale: f.locale,
	}, logger)
	if err != nil {
		return err
	}
	defer reporter.Close()

	if err := reporter.JoinAttempt(ctx, f.attemptID, f.testID); err != nil {
		return fmt.Errorf("join attempt: %w", err)
	}

	loop := sensor.NewLoop(sensor.NewDirCamera(f.frames), sensor.NewHeuristicDetector(), reporter, logger)

	config := sensor.DefaultConfig()
	config.DetectionInterval = f.interval
	config.UserAgent = f.userAgent
	if err := loop.Start(ctx, f.attemptID, config); err != nil {
		logger.Warn("Camera unavailable, sensor running degraded", "error", err)
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- reporter.Listen(listenCtx, func(msg realtime.Message) {
			loop.HandleMessage(listenCtx, msg)
			if loop.State() == sensor.StateStopped {
				cancel()
			}
		})
	}()

	select {
	case <-ctx.Done():
		loop.Stop(listenCtx, sensor.StopUnload)
		cancel()
		err = <-done
	case err = <-done:
		loop.Stop(context.Background(), sensor.StopUnload)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("connection lost: %w", err)
	}
	return nil
}
