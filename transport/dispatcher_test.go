package transport

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dryerlink/models"
)

func newTestDispatcher(t *testing.T, conn *fakeConn) (*Dispatcher, *AckTracker) {
	t.Helper()
	logger := zap.NewNop()
	q := NewQueue(filepath.Join(t.TempDir(), "queue.json"), 10, logger)
	q.Bind(conn, nil)
	acks := NewAckTracker(time.Second, time.Second, 3, logger)
	streams := NewStreamManager(func() string { return "DEV-1" }, logger)
	return NewDispatcher(conn, q, acks, streams, logger), acks
}

func TestDispatchUnknownTypeIsDropped(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, _ := newTestDispatcher(t, conn)

	d.Dispatch([]byte(`{"type":"mystery","commandId":"c1"}`))
	d.Dispatch([]byte(`not json at all`))

	assert.Empty(t, conn.sent)
}

func TestDispatchAckResolvesTrackedMessage(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, acks := newTestDispatcher(t, conn)

	acks.Register("m1", json.RawMessage(`{"id":"m1"}`))
	acks.OnWireSent("m1")
	require.Equal(t, 1, acks.PendingCount())

	d.Dispatch([]byte(`{"type":"ack","id":"m1"}`))
	assert.Equal(t, 0, acks.PendingCount())
}

func TestDispatchCommandSendsAck(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, _ := newTestDispatcher(t, conn)

	d.Dispatch([]byte(`{"type":"command","id":"c7","commandType":"reboot"}`))

	require.Len(t, conn.sent, 1)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(conn.sent[0], &ack))
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "c7", ack["commandId"])
}

func TestDispatchCommandAcksLegacyCommandID(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, _ := newTestDispatcher(t, conn)

	// Older cloud versions put the id in "commandId" instead of "id".
	d.Dispatch([]byte(`{"type":"command","commandId":"c8","commandType":"reboot"}`))

	require.Len(t, conn.sent, 1)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(conn.sent[0], &ack))
	assert.Equal(t, "c8", ack["commandId"])
}

func TestDispatchCommandAckQueuedWhileOffline(t *testing.T) {
	conn := &fakeConn{connected: false}
	d, acks := newTestDispatcher(t, conn)

	d.Dispatch([]byte(`{"type":"command","id":"c9","commandType":"reboot"}`))

	assert.Empty(t, conn.sent)
	var replayed int
	acks.FlushQueuedAcks(func(json.RawMessage) { replayed++ })
	assert.Equal(t, 1, replayed)
}

func TestDispatchPingGetsHeartbeatReply(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, _ := newTestDispatcher(t, conn)

	d.Dispatch([]byte(`{"type":"ping"}`))
	d.Dispatch([]byte(`{"type":"heartbeat"}`))

	require.Len(t, conn.sent, 2)
	for _, raw := range conn.sent {
		var reply map[string]any
		require.NoError(t, json.Unmarshal(raw, &reply))
		assert.Equal(t, "heartbeat", reply["type"])
	}
}

func TestDispatchPingNotAnsweredWhileOffline(t *testing.T) {
	conn := &fakeConn{connected: false}
	d, _ := newTestDispatcher(t, conn)

	d.Dispatch([]byte(`{"type":"ping"}`))

	assert.Empty(t, conn.sent)
}

type recordingTerminal struct {
	handled []string
}

func (r *recordingTerminal) Handle(p models.TerminalPayload) {
	r.handled = append(r.handled, p.Action)
}

func TestDispatchCommandRoutesNestedTerminalAccess(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, _ := newTestDispatcher(t, conn)
	term := &recordingTerminal{}
	d.Terminal = term

	d.Dispatch([]byte(`{"type":"command","id":"c3","commandType":"terminalAccess","payload":{"action":"start","sessionId":"s1"}}`))

	assert.Equal(t, []string{"start"}, term.handled)
	// The command ack still goes out before the terminal action runs.
	require.Len(t, conn.sent, 1)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(conn.sent[0], &ack))
	assert.Equal(t, "c3", ack["commandId"])
}

func TestDispatchStartStreamUnknownName(t *testing.T) {
	conn := &fakeConn{connected: true}
	d, _ := newTestDispatcher(t, conn)

	// Should only emit the command ack; unknown streams never activate.
	d.Dispatch([]byte(`{"type":"start_stream","id":"c1","streamType":"nope"}`))

	assert.False(t, d.Streams.Active("nope"))
	assert.Len(t, conn.sent, 1)
}
