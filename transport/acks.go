package transport

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"dryerlink/metrics"
)

// AckEvent describes the outcome of a tracked delivery.
type AckEvent struct {
	MessageID  string
	RetryCount int
	Elapsed    time.Duration
	Reason     string
}

type pendingAck struct {
	raw     json.RawMessage
	retries int
	sentAt  time.Time
	timer   *time.Timer
}

// AckTracker watches messages that require a cloud acknowledgment. A tracked
// message is registered at enqueue time but its timeout only arms when the
// message actually crosses the wire, so entries ride out disconnects without
// spurious timeouts: the connection teardown stops every timer and the next
// flush re-arms them. A message that times out is re-sent after a short
// delay, up to the retry ceiling, then reported failed.
type AckTracker struct {
	timeout    time.Duration
	retryDelay time.Duration
	maxRetries int
	logger     *zap.Logger

	resend   func(raw json.RawMessage)
	onAcked  func(ev AckEvent)
	onFailed func(ev AckEvent)

	mu         sync.Mutex
	pending    map[string]*pendingAck
	queuedAcks map[string]json.RawMessage
}

func NewAckTracker(timeout, retryDelay time.Duration, maxRetries int, logger *zap.Logger) *AckTracker {
	return &AckTracker{
		timeout:    timeout,
		retryDelay: retryDelay,
		maxRetries: maxRetries,
		logger:     logger,
		pending:    make(map[string]*pendingAck),
		queuedAcks: make(map[string]json.RawMessage),
	}
}

// Bind sets the resend path and outcome callbacks. Resend goes through the
// outgoing queue so retries issued while offline queue up like any message.
func (t *AckTracker) Bind(resend func(raw json.RawMessage), onAcked, onFailed func(ev AckEvent)) {
	t.resend = resend
	t.onAcked = onAcked
	t.onFailed = onFailed
}

// Register records a message awaiting acknowledgment. No timer runs until
// OnWireSent reports the actual transmission.
func (t *AckTracker) Register(id string, raw json.RawMessage) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = &pendingAck{raw: raw}
	metrics.PendingAcks.Set(float64(len(t.pending)))
	t.logger.Debug("Tracking message for acknowledgment", zap.String("id", id))
}

// OnWireSent arms (or re-arms) the ack timeout for a tracked message that
// just crossed the wire. Untracked ids are ignored.
func (t *AckTracker) OnWireSent(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[id]
	if !ok {
		return
	}
	if p.sentAt.IsZero() {
		p.sentAt = time.Now()
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(t.timeout, func() { t.handleTimeout(id) })
}

// Acknowledge resolves a tracked message. Unknown ids are tolerated: a
// retried message can be delivered twice and acked twice.
func (t *AckTracker) Acknowledge(id string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(t.pending, id)
		metrics.PendingAcks.Set(float64(len(t.pending)))
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("Ack for unknown message", zap.String("id", id))
		return
	}

	metrics.AcksConfirmed.Inc()
	t.logger.Debug("Message acknowledged",
		zap.String("id", id), zap.Int("retries", p.retries))
	if t.onAcked != nil {
		t.onAcked(AckEvent{MessageID: id, RetryCount: p.retries, Elapsed: time.Since(p.sentAt)})
	}
}

func (t *AckTracker) handleTimeout(id string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if !ok {
		t.mu.Unlock()
		return
	}

	p.retries++
	if p.retries > t.maxRetries {
		delete(t.pending, id)
		metrics.PendingAcks.Set(float64(len(t.pending)))
		t.mu.Unlock()

		metrics.AcksFailed.Inc()
		t.logger.Error("Message delivery failed, retries exhausted",
			zap.String("id", id), zap.Int("retries", p.retries-1))
		if t.onFailed != nil {
			t.onFailed(AckEvent{
				MessageID:  id,
				RetryCount: p.retries - 1,
				Elapsed:    time.Since(p.sentAt),
				Reason:     "ack timeout",
			})
		}
		return
	}

	retries := p.retries
	raw := p.raw
	p.timer = time.AfterFunc(t.retryDelay, func() {
		t.mu.Lock()
		_, still := t.pending[id]
		t.mu.Unlock()
		if !still {
			return
		}
		t.logger.Warn("Retrying unacknowledged message",
			zap.String("id", id), zap.Int("attempt", retries))
		if t.resend != nil {
			t.resend(raw)
		}
	})
	t.mu.Unlock()
}

// ClearTimers stops every running ack timer without forgetting the entries.
// Called on connection teardown; the next flush re-arms via OnWireSent.
func (t *AckTracker) ClearTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pending {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	}
	if len(t.pending) > 0 {
		t.logger.Debug("Paused ack timers", zap.Int("count", len(t.pending)))
	}
}

// PendingCount returns how many messages still await acknowledgment.
func (t *AckTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// QueueAck remembers a command ack produced while offline so it can be
// replayed after reconnect.
func (t *AckTracker) QueueAck(commandID string, raw json.RawMessage) {
	if commandID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queuedAcks[commandID] = raw
}

// FlushQueuedAcks replays offline command acks through send and clears them.
func (t *AckTracker) FlushQueuedAcks(send func(raw json.RawMessage)) {
	t.mu.Lock()
	acks := t.queuedAcks
	t.queuedAcks = make(map[string]json.RawMessage)
	t.mu.Unlock()

	if len(acks) == 0 {
		return
	}
	t.logger.Info("Replaying queued command acks", zap.Int("count", len(acks)))
	for _, raw := range acks {
		send(raw)
	}
}
