package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dryerlink/models"
)

type fakeAlarmSource struct {
	alarms []models.ActiveAlarm
	err    error
}

func (s *fakeAlarmSource) Alarms(context.Context) ([]models.ActiveAlarm, error) {
	return s.alarms, s.err
}

type fakePublisher struct {
	events []models.AlarmMessage
}

func (p *fakePublisher) PublishTracked(id string, msg any) error {
	p.events = append(p.events, msg.(models.AlarmMessage))
	return nil
}

func newTestMonitor(source *fakeAlarmSource, pub *fakePublisher) *AlarmMonitor {
	return NewAlarmMonitor(source, pub, func() string { return "DEV-1" },
		"dm2500i", time.Second, zap.NewNop())
}

func activeAlarm(channum int, alarmType string, value float64) models.ActiveAlarm {
	return models.ActiveAlarm{
		ID:       "a1",
		Channum:  channum,
		Type:     alarmType,
		Name:     "outlet_moisture",
		Message:  "limit exceeded",
		Value:    value,
		IsActive: true,
	}
}

func TestAlarmLifecycleEvents(t *testing.T) {
	source := &fakeAlarmSource{}
	pub := &fakePublisher{}
	m := newTestMonitor(source, pub)
	ctx := context.Background()

	// Appears.
	source.alarms = []models.ActiveAlarm{activeAlarm(301, "HAL", 22.5)}
	m.poll(ctx)
	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, models.AlarmActionNew, ev.Data.Action)
	assert.Equal(t, "critical", ev.Data.Alarm.Severity)
	assert.Equal(t, "sensor", ev.Data.Alarm.Category)
	assert.Equal(t, models.PriorityUrgent, ev.Priority)
	assert.Equal(t, "active", ev.Data.Alarm.State)

	// Unchanged: no event.
	m.poll(ctx)
	assert.Len(t, pub.events, 1)

	// Value moves: update.
	source.alarms = []models.ActiveAlarm{activeAlarm(301, "HAL", 24.0)}
	m.poll(ctx)
	require.Len(t, pub.events, 2)
	assert.Equal(t, models.AlarmActionUpdate, pub.events[1].Data.Action)

	// Disappears: cleared.
	source.alarms = nil
	m.poll(ctx)
	require.Len(t, pub.events, 3)
	assert.Equal(t, models.AlarmActionCleared, pub.events[2].Data.Action)
	assert.Equal(t, "cleared", pub.events[2].Data.Alarm.State)
	assert.NotEmpty(t, pub.events[2].Data.Alarm.ClearedAt)
}

func TestFailedPollEmitsNothing(t *testing.T) {
	source := &fakeAlarmSource{alarms: []models.ActiveAlarm{activeAlarm(301, "HWL", 21)}}
	pub := &fakePublisher{}
	m := newTestMonitor(source, pub)
	ctx := context.Background()

	m.poll(ctx)
	require.Len(t, pub.events, 1)

	// A poll error must not look like every alarm clearing.
	source.err = errors.New("local api down")
	m.poll(ctx)
	assert.Len(t, pub.events, 1)

	// When the API recovers with the same alarm set, still no new event.
	source.err = nil
	m.poll(ctx)
	assert.Len(t, pub.events, 1)
}

func TestSeverityCategoryPriorityTables(t *testing.T) {
	cases := []struct {
		alarmType string
		severity  string
		category  string
		priority  string
	}{
		{"HAL", "critical", "sensor", models.PriorityUrgent},
		{"LAL", "critical", "sensor", models.PriorityUrgent},
		{"HWL", "warning", "sensor", models.PriorityHigh},
		{"LWL", "warning", "sensor", models.PriorityHigh},
		{"COMM", "fault", "communication", models.PriorityUrgent},
		{"SYS", "critical", "system", models.PriorityUrgent},
		{"OTHER", "warning", "process", models.PriorityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.severity, alarmSeverity(tc.alarmType), tc.alarmType)
		assert.Equal(t, tc.category, alarmCategory(tc.alarmType), tc.alarmType)
		assert.Equal(t, tc.priority, alarmPriority(tc.severity), tc.alarmType)
	}
}

func TestInactiveAlarmsIgnored(t *testing.T) {
	inactive := activeAlarm(301, "HAL", 22)
	inactive.IsActive = false
	source := &fakeAlarmSource{alarms: []models.ActiveAlarm{inactive}}
	pub := &fakePublisher{}
	m := newTestMonitor(source, pub)

	m.poll(context.Background())
	assert.Empty(t, pub.events)
}
