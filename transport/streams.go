package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dryerlink/models"
)

// StreamSender delivers stream frames straight to the wire. Stream samples
// are not queued: after a gap the cloud wants fresh data, not stale replays.
type StreamSender interface {
	Connected() bool
	SendJSON(v any) error
}

// StreamMode selects how a stream produces frames.
type StreamMode string

const (
	// StreamPush streams run their own loop and push frames when ready.
	StreamPush StreamMode = "push"
	// StreamPoll streams are sampled on a fixed interval by the manager.
	StreamPoll StreamMode = "poll"
)

// StreamSpec declares a named stream. Poll-mode streams supply Poll; the
// manager samples it every PollInterval (1s default) and wraps the result in
// a streamData frame. Push-mode streams supply Run, which owns its cadence
// and sends through the provided emit function until the context ends.
type StreamSpec struct {
	Mode         StreamMode
	PollInterval time.Duration
	Poll         func(ctx context.Context) (any, error)
	Run          func(ctx context.Context, emit func(data any) error)
}

// StreamManager multiplexes live data streams over the single cloud
// connection. Start is idempotent per stream name; teardown of the
// connection stops all active streams.
type StreamManager struct {
	serial func() string
	sender StreamSender
	logger *zap.Logger

	mu     sync.Mutex
	specs  map[string]StreamSpec
	active map[string]context.CancelFunc
}

func NewStreamManager(serial func() string, logger *zap.Logger) *StreamManager {
	return &StreamManager{
		serial: serial,
		logger: logger,
		specs:  make(map[string]StreamSpec),
		active: make(map[string]context.CancelFunc),
	}
}

// Bind attaches the wire. Must be called before Start.
func (m *StreamManager) Bind(sender StreamSender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = sender
}

// Register declares a stream under name, replacing any previous spec.
func (m *StreamManager) Register(name string, spec StreamSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[name] = spec
}

// Start activates the named stream. Starting an active stream is a no-op;
// an unknown name is an error logged and ignored.
func (m *StreamManager) Start(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.active[name]; running {
		m.logger.Debug("Stream already active", zap.String("stream", name))
		return
	}
	spec, ok := m.specs[name]
	if !ok {
		m.logger.Warn("Unknown stream type requested", zap.String("stream", name))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.active[name] = cancel
	m.logger.Info("Starting stream", zap.String("stream", name))

	switch spec.Mode {
	case StreamPush:
		go func() {
			spec.Run(ctx, m.emitter(name))
			m.remove(name)
		}()
	default:
		go m.pollLoop(ctx, name, spec)
	}
}

// Stop deactivates the named stream if it is running.
func (m *StreamManager) Stop(name string) {
	m.mu.Lock()
	cancel, ok := m.active[name]
	if ok {
		delete(m.active, name)
	}
	m.mu.Unlock()

	if ok {
		cancel()
		m.logger.Info("Stopped stream", zap.String("stream", name))
	}
}

// StopAll deactivates every running stream.
func (m *StreamManager) StopAll() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.active))
	count := len(m.active)
	for name, cancel := range m.active {
		cancels = append(cancels, cancel)
		delete(m.active, name)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if count > 0 {
		m.logger.Info("Stopped all streams", zap.Int("count", count))
	}
}

// Active reports whether the named stream is running.
func (m *StreamManager) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[name]
	return ok
}

func (m *StreamManager) pollLoop(ctx context.Context, name string, spec StreamSpec) {
	interval := spec.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := m.emitter(name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := spec.Poll(ctx)
			if err != nil {
				m.logger.Debug("Stream poll failed",
					zap.String("stream", name), zap.Error(err))
				continue
			}
			if data == nil {
				continue
			}
			if err := emit(data); err != nil {
				m.logger.Debug("Stream send failed",
					zap.String("stream", name), zap.Error(err))
			}
		}
	}
}

func (m *StreamManager) emitter(name string) func(data any) error {
	return func(data any) error {
		m.mu.Lock()
		sender := m.sender
		m.mu.Unlock()
		if sender == nil || !sender.Connected() {
			return nil
		}
		return sender.SendJSON(models.StreamDataMessage{
			Type:       models.TypeStreamData,
			Serial:     m.serial(),
			StreamType: name,
			Data:       data,
			Timestamp:  time.Now().UnixMilli(),
		})
	}
}

func (m *StreamManager) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, name)
}
