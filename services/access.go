package services

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Access opens time-boxed SSH windows for remote support. The sshd unit is
// normally stopped on the device; a grant starts it and arms a timer that
// stops it again when the window ends. Overlapping grants extend the
// window rather than stacking units.
type Access struct {
	defaultDuration time.Duration
	logger          *zap.Logger

	mu    sync.Mutex
	until time.Time
	timer *time.Timer
}

func NewAccess(defaultDuration time.Duration, logger *zap.Logger) *Access {
	return &Access{defaultDuration: defaultDuration, logger: logger}
}

// Grant opens the SSH window for duration, falling back to the configured
// default when duration is zero. The token is an operator audit tag; the
// device does not validate it.
func (a *Access) Grant(duration time.Duration, token string) error {
	if duration <= 0 {
		duration = a.defaultDuration
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := exec.Command("systemctl", "start", "ssh").Run(); err != nil {
		return fmt.Errorf("start ssh service: %w", err)
	}

	until := time.Now().Add(duration)
	if until.After(a.until) {
		a.until = until
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(time.Until(a.until), a.close)

	a.logger.Info("SSH access window opened",
		zap.Duration("duration", duration),
		zap.Time("until", a.until),
		zap.String("token", token))
	return nil
}

func (a *Access) close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := exec.Command("systemctl", "stop", "ssh").Run(); err != nil {
		a.logger.Error("Failed to close SSH access window", zap.Error(err))
		return
	}
	a.until = time.Time{}
	a.logger.Info("SSH access window closed")
}
