package models

import (
	"encoding/json"
	"time"
)

// Message type strings of the cloud envelope protocol.
const (
	TypeHeartbeat      = "heartbeat"
	TypePing           = "ping"
	TypeAck            = "ack"
	TypeCommand        = "command"
	TypeSoftwareUpdate = "softwareUpdate"
	TypeSSHAccess      = "sshAccess"
	TypeTerminalAccess = "terminalAccess"
	TypeStartStream    = "start_stream"
	TypeStopStream     = "stop_stream"
	TypeStreamData     = "streamData"
	TypeAlarm          = "alarm"
	TypeUpdateAPI      = "update_api"

	TypeHistoryRequestAvailability = "history.request-availability"
	TypeHistoryRequestBatch        = "history.request-batch"
	TypeHistoryBatchData           = "history.batch-data"
	TypeHistoryBatchAck            = "history.batch-ack"
	TypeHistoryAvailabilityReport  = "history.availability-report"
	TypeDeviceSyncStates           = "device_sync_states"
)

// Message priorities, highest first.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// Envelope is the inbound cloud frame. Fields beyond Type are populated per
// message kind; unused ones stay zero.
type Envelope struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	CommandID   string          `json:"commandId,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	CommandType string          `json:"commandType,omitempty"`
	Command     string          `json:"command,omitempty"`
	StreamType  string          `json:"streamType,omitempty"`
	URL         string          `json:"url,omitempty"`
	Version     string          `json:"version,omitempty"`
	DurationSec int             `json:"durationSeconds,omitempty"`
	Token       string          `json:"token,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Updates     []APIUpdate     `json:"updates,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// APIUpdate is one path/value pair of an update_api frame.
type APIUpdate struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// AckMessage confirms receipt of a command or tracked message.
type AckMessage struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewCommandAck builds the ack sent for an inbound command id.
func NewCommandAck(commandID string) AckMessage {
	return AckMessage{
		Type:      TypeAck,
		CommandID: commandID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewResultAck builds the ack sent for history protocol messages, which carry
// an explicit success flag.
func NewResultAck(messageID string, success bool, errMsg string) AckMessage {
	return AckMessage{
		Type:      TypeAck,
		MessageID: messageID,
		Success:   &success,
		Error:     errMsg,
		Timestamp: time.Now().UnixMilli(),
	}
}

// HeartbeatMessage is the client liveness frame.
type HeartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewHeartbeat() HeartbeatMessage {
	return HeartbeatMessage{Type: TypeHeartbeat, Timestamp: time.Now().UnixMilli()}
}

// StreamDataMessage carries one poll-mode stream sample.
type StreamDataMessage struct {
	Type       string `json:"type"`
	Serial     string `json:"serial"`
	StreamType string `json:"streamType"`
	Data       any    `json:"data"`
	Timestamp  int64  `json:"timestamp"`
}

// TerminalPayload is the payload of a terminalAccess frame.
type TerminalPayload struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

// TerminalOutputMessage forwards pty output to the cloud terminal.
type TerminalOutputMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// TerminalExitMessage reports that a terminal session's process ended.
type TerminalExitMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
}

// TerminalAckMessage answers create/destroy terminal actions.
type TerminalAckMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}
