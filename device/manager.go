// Package device owns the device identity lifecycle: first registration,
// persisted credentials, and token renewal.
package device

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dryerlink/models"
	"dryerlink/store"
)

// Manager loads, registers and renews the device identity.
type Manager struct {
	store         *store.Store
	api           *CloudAPI
	probe         ConnectivityProbe
	deviceType    string
	version       string
	thresholdDays int
	logger        *zap.Logger
}

// ConnectivityProbe gates registration: a first-boot register call is
// pointless while offline.
type ConnectivityProbe interface {
	Online(ctx context.Context) bool
}

func NewManager(st *store.Store, api *CloudAPI, probe ConnectivityProbe,
	deviceType, version string, thresholdDays int, logger *zap.Logger) *Manager {
	return &Manager{
		store:         st,
		api:           api,
		probe:         probe,
		deviceType:    deviceType,
		version:       version,
		thresholdDays: thresholdDays,
		logger:        logger,
	}
}

// Initialize loads the persisted identity, renewing its token if it is close
// to expiry; a device that has never registered goes through the signed
// registration flow first. A nil error guarantees a usable identity.
func (m *Manager) Initialize(ctx context.Context) (*models.DeviceIdentity, error) {
	m.logger.Info("Initializing device identity")

	dev, err := m.store.LoadDevice(ctx)
	if err != nil {
		return nil, err
	}

	if dev != nil {
		m.logger.Info("Loaded device from storage", zap.String("serial", dev.Serial))
		return m.renewIfExpiring(ctx, dev), nil
	}

	return m.register(ctx)
}

// Reinitialize reloads the identity from storage after a recovery. The
// watchdog calls this instead of reusing a cached identity so a token
// renewed by another path is picked up.
func (m *Manager) Reinitialize(ctx context.Context) (*models.DeviceIdentity, error) {
	m.logger.Info("Re-initializing device identity after recovery")
	return m.Initialize(ctx)
}

// CheckToken runs the scheduled token-expiry check against the stored
// identity.
func (m *Manager) CheckToken(ctx context.Context) error {
	dev, err := m.store.LoadDevice(ctx)
	if err != nil {
		return err
	}
	if dev == nil {
		return fmt.Errorf("no device found during token check")
	}
	m.renewIfExpiring(ctx, dev)
	return nil
}

func (m *Manager) register(ctx context.Context) (*models.DeviceIdentity, error) {
	m.logger.Info("Attempting device registration")

	if !m.probe.Online(ctx) {
		return nil, fmt.Errorf("internet unavailable, skipping registration")
	}

	result, err := m.api.Register(ctx, models.RegistrationRequest{
		DeviceType: m.deviceType,
		Hardware:   Fingerprint(m.version),
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	dev := &models.DeviceIdentity{
		Serial:           result.Serial,
		RegisterPassword: result.RegisterPassword,
		Token:            result.Token,
	}
	if err := m.store.SaveDevice(ctx, dev); err != nil {
		return nil, err
	}

	m.logger.Info("Registered device", zap.String("serial", dev.Serial))
	return dev, nil
}
