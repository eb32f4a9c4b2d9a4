package device

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"dryerlink/models"
)

// TokenExpiry decodes the token without verifying its signature (the device
// holds no verification key) and returns the embedded expiry.
func TokenExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}

// renewIfExpiring renews the device token when its time-to-expiry has fallen
// under the configured threshold. Decode and renewal failures are non-fatal:
// the stale identity comes back unchanged and is retried at the next
// scheduled check.
func (m *Manager) renewIfExpiring(ctx context.Context, dev *models.DeviceIdentity) *models.DeviceIdentity {
	expiry, err := TokenExpiry(dev.Token)
	if err != nil {
		m.logger.Warn("Invalid token structure, keeping current token", zap.Error(err))
		return dev
	}

	threshold := time.Duration(m.thresholdDays) * 24 * time.Hour
	remaining := time.Until(expiry)
	if remaining > threshold {
		m.logger.Info("Token still valid",
			zap.Time("expires_at", expiry),
			zap.Duration("remaining", remaining))
		return dev
	}

	m.logger.Info("Token nearing expiry, attempting renewal",
		zap.Time("expires_at", expiry))

	renewed, err := m.api.RenewToken(ctx, dev.Serial, dev.Token)
	if err != nil {
		m.logger.Warn("Token renewal failed, keeping current token", zap.Error(err))
		return dev
	}

	if err := m.store.UpdateToken(ctx, dev.Serial, renewed.Token); err != nil {
		m.logger.Error("Failed to persist renewed token", zap.Error(err))
		return dev
	}

	updated := *dev
	updated.Token = renewed.Token
	m.logger.Info("Token renewed", zap.String("serial", dev.Serial))
	return &updated
}
