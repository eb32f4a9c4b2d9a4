package transport

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T, serverURL string) *Session {
	t.Helper()
	logger := zap.NewNop()
	q := NewQueue(filepath.Join(t.TempDir(), "queue.json"), 10, logger)
	acks := NewAckTracker(time.Second, time.Second, 3, logger)
	streams := NewStreamManager(func() string { return "DEV-1" }, logger)
	return NewSession(serverURL, time.Minute, q, acks, streams, logger)
}

func newEchoServer(t *testing.T, upgrades *atomic.Int32) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrades.Add(1)
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectConcurrentCallsDialOnce(t *testing.T) {
	var upgrades atomic.Int32
	srv := newEchoServer(t, &upgrades)

	s := newTestSession(t, srv.URL)
	defer s.Disconnect()

	// Racing Connect calls must produce exactly one connection: a second
	// dial would overwrite the live socket and leak its heartbeat loop.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, s.Connect("tok"))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), upgrades.Load())
	assert.True(t, s.Connected())

	// Connecting again on an open session is a no-op too.
	require.NoError(t, s.Connect("tok"))
	assert.Equal(t, int32(1), upgrades.Load())
}

func TestDisconnectTearsDownSession(t *testing.T) {
	var upgrades atomic.Int32
	srv := newEchoServer(t, &upgrades)

	s := newTestSession(t, srv.URL)
	var states []bool
	s.OnStateChange(func(connected bool) { states = append(states, connected) })

	require.NoError(t, s.Connect("tok"))
	require.True(t, s.Connected())

	s.Disconnect()
	assert.False(t, s.Connected())
	assert.Equal(t, []bool{true, false}, states)

	assert.Error(t, s.SendRaw([]byte(`{"type":"heartbeat"}`)))
}
