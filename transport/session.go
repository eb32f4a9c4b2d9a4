package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dryerlink/models"
)

// Dispatcher routes inbound frames. Defined as an interface here so the
// session does not depend on the concrete command router.
type MessageDispatcher interface {
	Dispatch(raw []byte)
}

// Session owns the WebSocket connection to the cloud: dialing, the read
// loop, serialized writes, the heartbeat ticker, and orderly teardown. On
// open it flushes the outgoing queue and replays offline command acks; on
// close it pauses ack timers and stops active streams. Reconnection policy
// lives in the watchdog, not here.
type Session struct {
	serverURL         string
	heartbeatInterval time.Duration
	queue             *Queue
	acks              *AckTracker
	streams           *StreamManager
	logger            *zap.Logger

	dispatcher    MessageDispatcher
	onStateChange func(connected bool)

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	dialing       bool
	heartbeatStop chan struct{}
}

func NewSession(serverURL string, heartbeatInterval time.Duration, queue *Queue, acks *AckTracker, streams *StreamManager, logger *zap.Logger) *Session {
	s := &Session{
		serverURL:         serverURL,
		heartbeatInterval: heartbeatInterval,
		queue:             queue,
		acks:              acks,
		streams:           streams,
		logger:            logger,
	}
	queue.Bind(s, func(raw json.RawMessage) {
		var probe struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &probe)
		if probe.ID != "" {
			acks.OnWireSent(probe.ID)
		}
	})
	return s
}

func (s *Session) SetDispatcher(d MessageDispatcher) { s.dispatcher = d }

// OnStateChange registers a callback fired with true after the connection
// opens and false after it closes.
func (s *Session) OnStateChange(fn func(connected bool)) { s.onStateChange = fn }

// Connected reports whether the socket is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect dials the cloud endpoint with the device token and starts the
// read and heartbeat loops. A no-op when already connected or while another
// dial is in flight: only one connection generation may exist at a time.
func (s *Session) Connect(token string) error {
	s.mu.Lock()
	if s.connected || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
	}()

	endpoint, err := s.endpoint(token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial cloud websocket: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.heartbeatStop = make(chan struct{})
	stop := s.heartbeatStop
	s.mu.Unlock()

	s.logger.Info("Connected to cloud")

	go s.readLoop(conn)
	go s.heartbeatLoop(stop)

	if s.onStateChange != nil {
		s.onStateChange(true)
	}
	s.queue.Flush()
	s.acks.FlushQueuedAcks(s.queue.EnqueueRaw)
	return nil
}

// Disconnect closes the connection deliberately.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.teardown(conn, nil)
	}
}

// SendRaw writes one text frame. Writes are serialized under the session
// mutex as the websocket allows only one concurrent writer.
func (s *Session) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.conn == nil {
		return fmt.Errorf("connection not open")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and writes it as one frame, bypassing the queue.
// Streams and heartbeats use it: stale readings are worthless after a gap.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return s.SendRaw(data)
}

func (s *Session) endpoint(token string) (string, error) {
	u, err := url.Parse(s.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.teardown(conn, err)
			return
		}
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(data)
		}
	}
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.SendJSON(models.NewHeartbeat()); err != nil {
				s.logger.Debug("Heartbeat send failed", zap.Error(err))
			}
		}
	}
}

// teardown runs the ordered close sequence exactly once per connection:
// stop the heartbeat, mark disconnected, notify, pause ack timers, stop
// streams. Guarded against a stale connection from a previous generation.
func (s *Session) teardown(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn || s.conn == nil {
		s.mu.Unlock()
		return
	}
	close(s.heartbeatStop)
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	_ = conn.Close()

	if cause != nil {
		s.logger.Warn("Cloud connection lost", zap.Error(cause))
	} else {
		s.logger.Info("Cloud connection closed")
	}

	if s.onStateChange != nil {
		s.onStateChange(false)
	}
	s.acks.ClearTimers()
	s.streams.StopAll()
}
