package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/calder-ross/bastion/internal/repositories"
	"github.com/calder-ross/bastion/internal/services"
)

// Login attempts feed risk scoring over windows of at most 30 days; anything
// older is noise.
const attemptRetention = 90 * 24 * time.Hour

// CleanupManager periodically removes expired one-time passwords, deactivates
// lapsed device trusts, prunes old login attempts, and sweeps idle rate
// limiter entries.
type CleanupManager struct {
	otpRepo     *repositories.OtpRepository
	deviceRepo  *repositories.TrustedDeviceRepository
	attemptRepo *repositories.LoginAttemptRepository
	limiter     *services.RateLimitService
	logger      *slog.Logger
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	otpRepo *repositories.OtpRepository,
	deviceRepo *repositories.TrustedDeviceRepository,
	attemptRepo *repositories.LoginAttemptRepository,
	limiter *services.RateLimitService,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		otpRepo:     otpRepo,
		deviceRepo:  deviceRepo,
		attemptRepo: attemptRepo,
		limiter:     limiter,
		logger:      logger,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	if deleted, err := cm.otpRepo.DeleteExpired(cleanupCtx, now); err != nil {
		cm.logger.Error("failed to delete expired otps", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("expired otps deleted", slog.Int64("rows_deleted", deleted))
	}

	if deactivated, err := cm.deviceRepo.DeactivateExpired(cleanupCtx, now); err != nil {
		cm.logger.Error("failed to deactivate expired device trusts", slog.Any("error", err))
	} else if deactivated > 0 {
		cm.logger.Info("expired device trusts deactivated", slog.Int64("rows_updated", deactivated))
	}

	if deleted, err := cm.attemptRepo.DeleteOlderThan(cleanupCtx, now.Add(-attemptRetention)); err != nil {
		cm.logger.Error("failed to prune old login attempts", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("old login attempts pruned", slog.Int64("rows_deleted", deleted))
	}

	if swept := cm.limiter.Sweep(); swept > 0 {
		cm.logger.Info("idle rate limit entries swept", slog.Int("entries", swept))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
