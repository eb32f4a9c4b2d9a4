package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"dryerlink/metrics"
	"dryerlink/models"
)

// Conn is the wire the queue drains into. The transport session implements
// it; tests substitute a fake.
type Conn interface {
	Connected() bool
	SendRaw(data []byte) error
}

// Queue is the outgoing message queue of the reliability layer. Messages
// enqueue straight to the wire while the connection is open; otherwise they
// are held in memory and mirrored wholesale to a durable JSON snapshot so
// they survive a process restart. The snapshot file is the at-rest source of
// truth for undelivered messages.
type Queue struct {
	snapshotPath string
	maxMessages  int
	logger       *zap.Logger

	mu      sync.Mutex
	pending []json.RawMessage
	conn    Conn
	onSent  func(raw json.RawMessage)
}

func NewQueue(snapshotPath string, maxMessages int, logger *zap.Logger) *Queue {
	return &Queue{
		snapshotPath: snapshotPath,
		maxMessages:  maxMessages,
		logger:       logger,
	}
}

// Bind attaches the wire and the sent-notification hook. The hook fires
// after every successful wire write so the ack tracker can arm its timers at
// transmission time, not enqueue time.
func (q *Queue) Bind(conn Conn, onSent func(raw json.RawMessage)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.conn = conn
	q.onSent = onSent
}

// LoadSnapshot restores messages persisted by a previous process.
func (q *Queue) LoadSnapshot() int {
	data, err := os.ReadFile(q.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Error("Failed to load queue snapshot", zap.Error(err))
		}
		return 0
	}

	var msgs []json.RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		q.logger.Error("Corrupt queue snapshot, discarding", zap.Error(err))
		return 0
	}

	q.mu.Lock()
	q.pending = append(q.pending, msgs...)
	metrics.QueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	if len(msgs) > 0 {
		q.logger.Info("Loaded persisted messages from queue snapshot",
			zap.Int("count", len(msgs)))
	}
	return len(msgs)
}

// Enqueue sends msg immediately when the connection is open, or queues and
// persists it for the next flush.
func (q *Queue) Enqueue(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outgoing message: %w", err)
	}
	q.EnqueueRaw(raw)
	return nil
}

// EnqueueRaw is Enqueue for an already-marshaled message.
func (q *Queue) EnqueueRaw(raw json.RawMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn != nil && q.conn.Connected() {
		err := q.conn.SendRaw(raw)
		if err == nil {
			metrics.MessagesSent.Inc()
			q.notifySent(raw)
			return
		}
		q.logger.Warn("Immediate send failed, queuing message", zap.Error(err))
	}

	q.pending = append(q.pending, raw)
	q.evictLocked()
	metrics.MessagesQueued.Inc()
	metrics.QueueDepth.Set(float64(len(q.pending)))
	q.persistLocked()
	q.logger.Debug("Message queued", zap.Int("depth", len(q.pending)))
}

// evictLocked enforces the queue bound: when full, drop the oldest
// low-priority message first, then the oldest overall.
func (q *Queue) evictLocked() {
	if q.maxMessages <= 0 || len(q.pending) <= q.maxMessages {
		return
	}

	victim := 0
	for i, raw := range q.pending {
		var probe struct {
			Priority string `json:"priority"`
		}
		_ = json.Unmarshal(raw, &probe)
		if probe.Priority != models.PriorityUrgent && probe.Priority != models.PriorityHigh {
			victim = i
			break
		}
	}

	q.logger.Warn("Queue full, evicting message", zap.Int("index", victim))
	q.pending = append(q.pending[:victim], q.pending[victim+1:]...)
	metrics.MessagesEvicted.Inc()
}

// Flush drains the queue strictly FIFO over the open connection and clears
// the durable snapshot. A send failure stops the drain; the remainder stays
// queued for the next flush.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn == nil || !q.conn.Connected() {
		q.logger.Debug("Cannot flush, connection not open")
		return
	}
	if len(q.pending) == 0 {
		return
	}

	q.logger.Info("Flushing queued messages", zap.Int("count", len(q.pending)))

	sent := 0
	for _, raw := range q.pending {
		if err := q.conn.SendRaw(raw); err != nil {
			q.logger.Error("Error sending queued message, stopping flush", zap.Error(err))
			break
		}
		metrics.MessagesSent.Inc()
		q.notifySent(raw)
		sent++
	}

	q.pending = q.pending[sent:]
	metrics.QueueDepth.Set(float64(len(q.pending)))
	q.persistLocked()
}

// Depth returns the number of messages waiting for a flush.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) notifySent(raw json.RawMessage) {
	if q.onSent != nil {
		q.onSent(raw)
	}
}

// persistLocked rewrites the full snapshot, write-then-rename so a crash
// mid-write never truncates the previous snapshot.
func (q *Queue) persistLocked() {
	data, err := json.MarshalIndent(q.pending, "", "  ")
	if err != nil {
		q.logger.Error("Failed to marshal queue snapshot", zap.Error(err))
		return
	}
	if len(q.pending) == 0 {
		data = []byte("[]")
	}

	tmp := q.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		q.logger.Error("Failed to write queue snapshot", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, q.snapshotPath); err != nil {
		q.logger.Error("Failed to replace queue snapshot", zap.Error(err))
		return
	}
	q.logger.Debug("Saved queue snapshot",
		zap.String("path", filepath.Base(q.snapshotPath)),
		zap.Int("count", len(q.pending)))
}
