package transport

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(maxRetries int) *AckTracker {
	return NewAckTracker(30*time.Millisecond, 10*time.Millisecond, maxRetries, zap.NewNop())
}

func TestAckWithinTimeout(t *testing.T) {
	tr := newTestTracker(3)
	acked := make(chan AckEvent, 1)
	failed := make(chan AckEvent, 1)
	tr.Bind(func(json.RawMessage) {},
		func(ev AckEvent) { acked <- ev },
		func(ev AckEvent) { failed <- ev })

	tr.Register("m1", json.RawMessage(`{"id":"m1"}`))
	tr.OnWireSent("m1")
	tr.Acknowledge("m1")

	select {
	case ev := <-acked:
		assert.Equal(t, "m1", ev.MessageID)
		assert.Equal(t, 0, ev.RetryCount)
	case <-time.After(time.Second):
		t.Fatal("expected acknowledged event")
	}

	assert.Equal(t, 0, tr.PendingCount())
	select {
	case <-failed:
		t.Fatal("unexpected failed event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnackedMessageRetriesThenFails(t *testing.T) {
	tr := newTestTracker(3)
	var resends atomic.Int32
	failed := make(chan AckEvent, 2)
	tr.Bind(func(raw json.RawMessage) {
		resends.Add(1)
		// The queue reports the retransmission, re-arming the timeout.
		tr.OnWireSent("m1")
	}, nil, func(ev AckEvent) { failed <- ev })

	tr.Register("m1", json.RawMessage(`{"id":"m1"}`))
	tr.OnWireSent("m1")

	select {
	case ev := <-failed:
		assert.Equal(t, "m1", ev.MessageID)
		assert.Equal(t, 3, ev.RetryCount)
		assert.Equal(t, "ack timeout", ev.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("expected failed event")
	}

	assert.Equal(t, int32(3), resends.Load())
	assert.Equal(t, 0, tr.PendingCount())

	select {
	case <-failed:
		t.Fatal("failed event emitted more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateAckTolerated(t *testing.T) {
	tr := newTestTracker(3)
	acked := make(chan AckEvent, 2)
	tr.Bind(func(json.RawMessage) {}, func(ev AckEvent) { acked <- ev }, nil)

	tr.Register("m1", json.RawMessage(`{"id":"m1"}`))
	tr.OnWireSent("m1")
	tr.Acknowledge("m1")
	tr.Acknowledge("m1")

	<-acked
	select {
	case <-acked:
		t.Fatal("duplicate ack emitted a second acknowledged event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClearTimersPausesRetries(t *testing.T) {
	tr := newTestTracker(3)
	var resends atomic.Int32
	tr.Bind(func(json.RawMessage) { resends.Add(1) }, nil, nil)

	tr.Register("m1", json.RawMessage(`{"id":"m1"}`))
	tr.OnWireSent("m1")
	tr.ClearTimers()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), resends.Load())
	assert.Equal(t, 1, tr.PendingCount(), "entry must survive the pause")
}

func TestQueuedAcksReplayOnce(t *testing.T) {
	tr := newTestTracker(3)
	tr.QueueAck("c1", json.RawMessage(`{"type":"ack","commandId":"c1"}`))
	tr.QueueAck("c2", json.RawMessage(`{"type":"ack","commandId":"c2"}`))

	var replayed int
	tr.FlushQueuedAcks(func(json.RawMessage) { replayed++ })
	require.Equal(t, 2, replayed)

	tr.FlushQueuedAcks(func(json.RawMessage) { replayed++ })
	assert.Equal(t, 2, replayed)
}
