package models

import "time"

// Sync lifecycle states of a history record. "failed" is terminal and
// excludes the record from future batch claims.
const (
	SyncPending = "pending"
	SyncSyncing = "syncing"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// HistoryRecord is one aggregation window of sensor history. Nullable
// aggregates are pointers; nil means the filtered sample set was empty.
type HistoryRecord struct {
	DeviceSerial     string    `json:"deviceSerial"`
	SyncID           string    `json:"syncId"`
	RecordedAt       time.Time `json:"recordedAt"`
	AggregationStart time.Time `json:"aggregationStart"`
	AggregationEnd   time.Time `json:"aggregationEnd"`

	Product    string `json:"product"`
	Mode       string `json:"mode"`
	DryerState string `json:"dryerState"`

	InletMoisture     *float64 `json:"inletMoisture"`
	OutletMoisture    *float64 `json:"outletMoisture"`
	InletTemperature  *float64 `json:"inletTemperature"`
	OutletTemperature *float64 `json:"outletTemperature"`
	DischargeRate     *float64 `json:"dischargeRate"`
	MoistureTarget    *float64 `json:"moistureTarget"`
	APT               *float64 `json:"apt"`

	SampleCount int `json:"sampleCount"`
	DataQuality int `json:"dataQuality"`

	SyncStatus   string     `json:"syncStatus"`
	SyncBatchID  string     `json:"syncBatchId,omitempty"`
	SyncAttempts int        `json:"syncAttempts"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Availability summarizes what history exists on the device.
type Availability struct {
	OldestRecord *time.Time `json:"oldestRecord"`
	NewestRecord *time.Time `json:"newestRecord"`
	TotalRecords int        `json:"totalRecords"`
	PendingSync  int        `json:"pendingSync"`
	Syncing      int        `json:"syncing"`
	Synced       int        `json:"synced"`
	Failed       int        `json:"failed"`
}

// BatchRequest is the payload of a history.request-batch frame.
type BatchRequest struct {
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	MaxRecords int       `json:"maxRecords"`
}

// BatchAck is the payload of a history.batch-ack frame.
type BatchAck struct {
	BatchID string   `json:"batchId"`
	SyncIDs []string `json:"syncIds"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
}

// BatchDataMessage transmits one claimed, compressed batch.
type BatchDataMessage struct {
	Type      string           `json:"type"`
	MessageID string           `json:"messageId,omitempty"`
	Payload   BatchDataPayload `json:"payload"`
}

type BatchDataPayload struct {
	DeviceSerial string     `json:"deviceSerial"`
	BatchID      string     `json:"batchId"`
	RecordCount  int        `json:"recordCount"`
	SyncIDs      []string   `json:"syncIds"`
	Compressed   bool       `json:"compressed"`
	Data         string     `json:"data"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// AvailabilityReportMessage answers a history.request-availability frame.
type AvailabilityReportMessage struct {
	Type      string                    `json:"type"`
	MessageID string                    `json:"messageId,omitempty"`
	Payload   AvailabilityReportPayload `json:"payload"`
}

type AvailabilityReportPayload struct {
	DeviceSerial string       `json:"deviceSerial"`
	Availability Availability `json:"availability"`
	Timestamp    time.Time    `json:"timestamp"`
}

// SyncStateMessage is the periodic device_sync_states summary.
type SyncStateMessage struct {
	Type    string           `json:"type"`
	Payload SyncStatePayload `json:"payload"`
}

type SyncStatePayload struct {
	DeviceSerial  string     `json:"deviceSerial"`
	Pending       int        `json:"pendingRecords"`
	Syncing       int        `json:"syncingRecords"`
	Synced        int        `json:"syncedRecords"`
	Failed        int        `json:"failedRecords"`
	Total         int        `json:"totalRecords"`
	OldestPending *time.Time `json:"oldestPending,omitempty"`
	NewestPending *time.Time `json:"newestPending,omitempty"`
	LastSyncTime  *time.Time `json:"lastSyncTime,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// SyncLogEntry records one sync round, successful or not.
type SyncLogEntry struct {
	DeviceSerial string        `json:"deviceSerial"`
	BatchID      string        `json:"batchId"`
	SyncStart    time.Time     `json:"syncStart"`
	SyncEnd      time.Time     `json:"syncEnd"`
	RecordCount  int           `json:"recordCount"`
	Status       string        `json:"status"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}
