package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dryerlink/models"
)

// LoadDevice returns the identity row, or nil when the device has never
// registered.
func (s *Store) LoadDevice(ctx context.Context) (*models.DeviceIdentity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, serial, register_password, token, cloud_connection,
		       last_connected, created_at, updated_at
		FROM device LIMIT 1`)

	var (
		dev           models.DeviceIdentity
		connected     int
		lastConnected sql.NullTime
	)
	err := row.Scan(&dev.ID, &dev.Serial, &dev.RegisterPassword, &dev.Token,
		&connected, &lastConnected, &dev.CreatedAt, &dev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	dev.CloudConnection = connected != 0
	if lastConnected.Valid {
		t := lastConnected.Time
		dev.LastConnected = &t
	}
	return &dev, nil
}

// SaveDevice inserts the identity row after first registration.
func (s *Store) SaveDevice(ctx context.Context, dev *models.DeviceIdentity) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO device (serial, register_password, token, cloud_connection, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		dev.Serial, dev.RegisterPassword, dev.Token, now, now)
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}
	dev.ID, _ = res.LastInsertId()
	dev.CreatedAt = now
	dev.UpdatedAt = now
	return nil
}

// UpdateToken replaces the stored token for serial.
func (s *Store) UpdateToken(ctx context.Context, serial, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE device SET token = ?, updated_at = CURRENT_TIMESTAMP WHERE serial = ?`,
		token, serial)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update token: device %s not found", serial)
	}
	return nil
}

// SetCloudConnection records the current cloud connection state and, when
// connected, the connect timestamp.
func (s *Store) SetCloudConnection(ctx context.Context, connected bool) error {
	var err error
	if connected {
		_, err = s.db.ExecContext(ctx, `
			UPDATE device SET cloud_connection = 1, last_connected = CURRENT_TIMESTAMP,
			       updated_at = CURRENT_TIMESTAMP`)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE device SET cloud_connection = 0, updated_at = CURRENT_TIMESTAMP`)
	}
	if err != nil {
		return fmt.Errorf("set cloud connection: %w", err)
	}
	return nil
}

// ResetConnectionState clears a stale connected flag left by an unclean stop.
func (s *Store) ResetConnectionState(ctx context.Context) error {
	return s.SetCloudConnection(ctx, false)
}
