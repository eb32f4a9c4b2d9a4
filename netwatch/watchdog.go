package netwatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dryerlink/metrics"
	"dryerlink/models"
)

// IdentityProvider is the slice of the device manager the watchdog needs:
// a fresh (not cached) identity reload and the scheduled token check.
type IdentityProvider interface {
	Reinitialize(ctx context.Context) (*models.DeviceIdentity, error)
	CheckToken(ctx context.Context) error
}

// ConnectionStatus reports whether the transport session currently holds an
// open socket.
type ConnectionStatus interface {
	Connected() bool
}

// Connectivity is the probe surface the watchdog polls.
type Connectivity interface {
	Online(ctx context.Context) bool
	OfflineDuration() time.Duration
}

// WatchdogConfig carries the supervision intervals.
type WatchdogConfig struct {
	CheckInterval    time.Duration
	TokenInterval    time.Duration
	RecoveryCooldown time.Duration
}

// Watchdog polls connectivity and token expiry and drives reconnection with
// a cooldown guarding against reconnection storms.
type Watchdog struct {
	cfg           WatchdogConfig
	probe         Connectivity
	identity      IdentityProvider
	conn          ConnectionStatus
	onReconnected func(*models.DeviceIdentity)
	logger        *zap.Logger

	previouslyOffline bool
	lastRecovery      time.Time
	lastTokenCheck    time.Time
}

func NewWatchdog(cfg WatchdogConfig, probe Connectivity, identity IdentityProvider,
	conn ConnectionStatus, onReconnected func(*models.DeviceIdentity), logger *zap.Logger) *Watchdog {
	return &Watchdog{
		cfg:           cfg,
		probe:         probe,
		identity:      identity,
		conn:          conn,
		onReconnected: onReconnected,
		logger:        logger,
	}
}

// Run ticks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	w.logger.Info("Starting watchdog", zap.Duration("interval", w.cfg.CheckInterval))

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watchdog stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	online := w.probe.Online(ctx)
	now := time.Now()

	if online && now.Sub(w.lastTokenCheck) > w.cfg.TokenInterval {
		w.logger.Info("Performing scheduled token expiry check")
		if err := w.identity.CheckToken(ctx); err != nil {
			w.logger.Warn("Token check failed", zap.Error(err))
		}
		w.lastTokenCheck = now
	}

	if !online {
		// Log the transition once, not every tick.
		if !w.previouslyOffline {
			w.logger.Warn("Internet is offline, waiting for recovery")
			w.previouslyOffline = true
		} else {
			w.logger.Debug("Still offline",
				zap.Duration("offline_for", w.probe.OfflineDuration()))
		}
		return
	}

	needsRecovery := w.previouslyOffline || !w.conn.Connected()
	cooldownPassed := now.Sub(w.lastRecovery) >= w.cfg.RecoveryCooldown

	switch {
	case needsRecovery && cooldownPassed:
		w.logger.Info("Reconnection needed, reinitializing device")
		w.previouslyOffline = false
		w.lastRecovery = now
		metrics.Reconnects.Inc()

		device, err := w.identity.Reinitialize(ctx)
		if err != nil {
			w.logger.Error("Reinitialization failed", zap.Error(err))
			return
		}
		if device != nil && w.onReconnected != nil {
			w.onReconnected(device)
		}
	case needsRecovery:
		w.logger.Debug("Waiting for recovery cooldown")
	}
}
