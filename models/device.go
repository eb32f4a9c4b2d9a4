package models

import "time"

// DeviceIdentity is the persisted serial + credential pair identifying this
// device to the cloud. Exactly one row exists per device.
type DeviceIdentity struct {
	ID               int64      `json:"id"`
	Serial           string     `json:"serial"`
	RegisterPassword string     `json:"registerPassword"`
	Token            string     `json:"token"`
	CloudConnection  bool       `json:"cloudConnection"`
	LastConnected    *time.Time `json:"lastConnected,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// HardwareInfo is the fingerprint sent with a registration request.
type HardwareInfo struct {
	Hostname        string `json:"hostname"`
	MAC             string `json:"mac"`
	DiskUUID        string `json:"diskUUID"`
	DeviceUUID      string `json:"deviceUUID"`
	SoftwareVersion string `json:"softwareVersion"`
}

// RegistrationRequest is the signed payload POSTed to /devices/register.
type RegistrationRequest struct {
	DeviceType string       `json:"deviceType"`
	Hardware   HardwareInfo `json:"hardware"`
}

// RegistrationResult is the cloud's answer to a registration call.
type RegistrationResult struct {
	Serial           string `json:"serial"`
	RegisterPassword string `json:"registerPassword,omitempty"`
	Token            string `json:"token"`
}

// RenewalRequest is the signed payload POSTed to /devices/renew-token.
type RenewalRequest struct {
	Serial   string `json:"serial"`
	OldToken string `json:"oldToken"`
}

// RenewalResult carries the replacement token.
type RenewalResult struct {
	Token string `json:"token"`
}
