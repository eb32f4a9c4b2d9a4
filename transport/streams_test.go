package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []any
}

func (s *fakeSender) Connected() bool { return true }

func (s *fakeSender) SendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, v)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func newTestStreams(t *testing.T) (*StreamManager, *fakeSender) {
	t.Helper()
	m := NewStreamManager(func() string { return "DEV-1" }, zap.NewNop())
	sender := &fakeSender{}
	m.Bind(sender)
	t.Cleanup(m.StopAll)
	return m, sender
}

func TestStreamStartIsIdempotent(t *testing.T) {
	m, _ := newTestStreams(t)
	m.Register("home", StreamSpec{
		Mode:         StreamPoll,
		PollInterval: time.Hour,
		Poll:         func(context.Context) (any, error) { return 1, nil },
	})

	m.Start("home")
	m.Start("home")
	assert.True(t, m.Active("home"))

	m.Stop("home")
	assert.False(t, m.Active("home"))
}

func TestPollStreamEmitsFrames(t *testing.T) {
	m, sender := newTestStreams(t)
	m.Register("home", StreamSpec{
		Mode:         StreamPoll,
		PollInterval: 5 * time.Millisecond,
		Poll:         func(context.Context) (any, error) { return map[string]int{"v": 1}, nil },
	})

	m.Start("home")
	require.Eventually(t, func() bool { return sender.count() > 0 },
		time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	frame := sender.frames[0]
	sender.mu.Unlock()

	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	var probe struct {
		Type       string `json:"type"`
		Serial     string `json:"serial"`
		StreamType string `json:"streamType"`
	}
	require.NoError(t, json.Unmarshal(raw, &probe))
	assert.Equal(t, "streamData", probe.Type)
	assert.Equal(t, "DEV-1", probe.Serial)
	assert.Equal(t, "home", probe.StreamType)
}

func TestStopAllCancelsEverything(t *testing.T) {
	m, sender := newTestStreams(t)
	for _, name := range []string{"home", "settings"} {
		m.Register(name, StreamSpec{
			Mode:         StreamPoll,
			PollInterval: 5 * time.Millisecond,
			Poll:         func(context.Context) (any, error) { return 1, nil },
		})
		m.Start(name)
	}

	require.Eventually(t, func() bool { return sender.count() > 0 },
		time.Second, 5*time.Millisecond)

	m.StopAll()
	assert.False(t, m.Active("home"))
	assert.False(t, m.Active("settings"))

	// No frames after the tickers are gone.
	time.Sleep(20 * time.Millisecond)
	n := sender.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sender.count())
}
