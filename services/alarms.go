package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dryerlink/models"
)

// AlarmPublisher is the ack-tracked outbound path for alarm events.
type AlarmPublisher interface {
	PublishTracked(id string, msg any) error
}

// AlarmSource provides the controller's active alarm list.
type AlarmSource interface {
	Alarms(ctx context.Context) ([]models.ActiveAlarm, error)
}

// AlarmMonitor polls the controller's alarm list and emits edge-triggered
// events: new when an alarm appears, update when its severity, value, or
// message changes, cleared when it disappears. Events ride the reliability
// layer with ack tracking so an alarm raised during an outage still
// reaches the cloud.
type AlarmMonitor struct {
	source   AlarmSource
	pub      AlarmPublisher
	serial   func() string
	model    string
	interval time.Duration
	logger   *zap.Logger

	known map[string]models.ActiveAlarm
}

func NewAlarmMonitor(source AlarmSource, pub AlarmPublisher, serial func() string, model string, interval time.Duration, logger *zap.Logger) *AlarmMonitor {
	return &AlarmMonitor{
		source:   source,
		pub:      pub,
		serial:   serial,
		model:    model,
		interval: interval,
		logger:   logger,
		known:    make(map[string]models.ActiveAlarm),
	}
}

// Run polls until ctx ends.
func (m *AlarmMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Alarm monitor started", zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *AlarmMonitor) poll(ctx context.Context) {
	alarms, err := m.source.Alarms(ctx)
	if err != nil {
		// A failed poll is not an empty alarm list; diffing against it
		// would emit spurious cleared events.
		m.logger.Debug("Alarm poll failed", zap.Error(err))
		return
	}

	current := make(map[string]models.ActiveAlarm, len(alarms))
	for _, a := range alarms {
		if !a.IsActive {
			continue
		}
		current[alarmKey(a)] = a
	}

	for key, alarm := range current {
		prev, seen := m.known[key]
		switch {
		case !seen:
			m.emit(models.AlarmActionNew, alarm)
		case prev.Severity != alarm.Severity || prev.Value != alarm.Value || prev.Message != alarm.Message:
			m.emit(models.AlarmActionUpdate, alarm)
		}
	}
	for key, alarm := range m.known {
		if _, still := current[key]; !still {
			m.emit(models.AlarmActionCleared, alarm)
		}
	}

	m.known = current
}

func (m *AlarmMonitor) emit(action string, alarm models.ActiveAlarm) {
	now := time.Now().UTC()
	severity := alarmSeverity(alarm.Type)
	cloud := models.CloudAlarm{
		ID:           alarm.ID,
		Type:         alarm.Type,
		Category:     alarmCategory(alarm.Type),
		Severity:     severity,
		SensorID:     alarm.Channum,
		SensorName:   alarm.Name,
		Value:        alarm.Value,
		Threshold:    alarm.Threshold,
		Message:      alarm.Message,
		State:        "active",
		TriggeredAt:  alarm.Timestamp,
		SerialNumber: m.serial(),
		Model:        m.model,
	}
	if cloud.ID == "" {
		cloud.ID = alarmKey(alarm)
	}
	if cloud.TriggeredAt == "" {
		cloud.TriggeredAt = now.Format(time.RFC3339)
	}
	if action == models.AlarmActionCleared {
		cloud.State = "cleared"
		cloud.ClearedAt = now.Format(time.RFC3339)
	}

	msg := models.AlarmMessage{
		ID:        uuid.NewString(),
		Type:      models.TypeAlarm,
		Data:      models.AlarmEvent{Action: action, Alarm: cloud, Timestamp: now},
		Priority:  alarmPriority(severity),
		Timestamp: now,
	}

	if err := m.pub.PublishTracked(msg.ID, msg); err != nil {
		m.logger.Error("Failed to publish alarm event",
			zap.String("action", action), zap.Error(err))
		return
	}
	m.logger.Info("Alarm event",
		zap.String("action", action),
		zap.String("type", alarm.Type),
		zap.Int("channum", alarm.Channum),
		zap.String("severity", severity))
}

func alarmKey(a models.ActiveAlarm) string {
	return fmt.Sprintf("%d_%s", a.Channum, a.Type)
}

// Alarm type codes of the controller: high/low absolute limits, high/low
// warning limits, communication faults, and system faults.
func alarmSeverity(alarmType string) string {
	switch alarmType {
	case "HAL", "LAL", "SYS":
		return "critical"
	case "HWL", "LWL":
		return "warning"
	case "COMM":
		return "fault"
	default:
		return "warning"
	}
}

func alarmCategory(alarmType string) string {
	switch alarmType {
	case "HAL", "LAL", "HWL", "LWL":
		return "sensor"
	case "SYS":
		return "system"
	case "COMM":
		return "communication"
	default:
		return "process"
	}
}

func alarmPriority(severity string) string {
	switch severity {
	case "critical", "fault":
		return models.PriorityUrgent
	case "warning":
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}
