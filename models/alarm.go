package models

import "time"

// Alarm actions emitted by the monitor's edge-triggered diffing.
const (
	AlarmActionNew     = "new"
	AlarmActionUpdate  = "update"
	AlarmActionCleared = "cleared"
)

// ActiveAlarm is one alarm as reported by the controller's local API.
type ActiveAlarm struct {
	ID        string  `json:"id"`
	Channum   int     `json:"channum"`
	Type      string  `json:"type"`
	Name      string  `json:"name,omitempty"`
	Message   string  `json:"message,omitempty"`
	Severity  string  `json:"severity,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	IsActive  bool    `json:"isActive"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// CloudAlarm is the canonical alarm envelope sent to the cloud.
type CloudAlarm struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Category     string  `json:"category"`
	Severity     string  `json:"severity"`
	SensorID     int     `json:"sensorId"`
	SensorName   string  `json:"sensorName"`
	Value        float64 `json:"value"`
	Threshold    float64 `json:"threshold"`
	Message      string  `json:"message"`
	State        string  `json:"state"`
	TriggeredAt  string  `json:"triggeredAt"`
	ClearedAt    string  `json:"clearedAt,omitempty"`
	SerialNumber string  `json:"serialNumber"`
	Model        string  `json:"model"`
}

// AlarmMessage is the outbound, ack-tracked alarm event.
type AlarmMessage struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Data      AlarmEvent `json:"data"`
	Priority  string     `json:"priority"`
	Timestamp time.Time  `json:"timestamp"`
}

// AlarmEvent is the action-tagged alarm payload.
type AlarmEvent struct {
	Action    string     `json:"action"`
	Alarm     CloudAlarm `json:"alarm"`
	Timestamp time.Time  `json:"timestamp"`
}
