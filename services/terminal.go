package services

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"dryerlink/models"
)

// TerminalSink delivers terminal frames to the cloud.
type TerminalSink interface {
	Connected() bool
	SendJSON(v any) error
}

// Outbound terminal frame type strings.
const (
	typeTerminalOutput = "terminalOutput"
	typeTerminalExit   = "terminalExit"
	typeTerminalAck    = "terminalAck"
)

const terminalShell = "/bin/bash"

type termSession struct {
	id         string
	ptmx       *os.File
	cmd        *exec.Cmd
	lastActive time.Time
}

// Terminal services remote shell sessions over the cloud connection. Each
// session is one pty-backed shell; output streams to the cloud as it
// arrives and sessions idle past the timeout are reaped.
type Terminal struct {
	sink        TerminalSink
	idleTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*termSession
}

func NewTerminal(sink TerminalSink, idleTimeout time.Duration, logger *zap.Logger) *Terminal {
	return &Terminal{
		sink:        sink,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    make(map[string]*termSession),
	}
}

// Handle routes one terminalAccess action.
func (t *Terminal) Handle(p models.TerminalPayload) {
	switch p.Action {
	case "create":
		t.create(p)
	case "input":
		t.input(p)
	case "resize":
		t.resize(p)
	case "destroy":
		t.destroy(p.SessionID, "closed by operator")
		t.ack(p.SessionID, p.Action, true, "session destroyed", "")
	default:
		t.logger.Warn("Unknown terminal action", zap.String("action", p.Action))
	}
}

func (t *Terminal) create(p models.TerminalPayload) {
	t.mu.Lock()
	if _, exists := t.sessions[p.SessionID]; exists {
		t.mu.Unlock()
		t.ack(p.SessionID, p.Action, true, "session already exists", "")
		return
	}
	t.mu.Unlock()

	cmd := exec.Command(terminalShell, "--login")
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	size := &pty.Winsize{Rows: 24, Cols: 80}
	if p.Rows > 0 && p.Cols > 0 {
		size = &pty.Winsize{Rows: uint16(p.Rows), Cols: uint16(p.Cols)}
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		t.logger.Error("Failed to start terminal session", zap.Error(err))
		t.ack(p.SessionID, p.Action, false, "", err.Error())
		return
	}

	sess := &termSession{
		id:         p.SessionID,
		ptmx:       ptmx,
		cmd:        cmd,
		lastActive: time.Now(),
	}
	t.mu.Lock()
	t.sessions[p.SessionID] = sess
	t.mu.Unlock()

	go t.pump(sess)

	t.logger.Info("Terminal session created", zap.String("session_id", p.SessionID))
	t.ack(p.SessionID, p.Action, true, "session created", "")
}

// pump forwards pty output until the shell exits, then reports the exit.
func (t *Terminal) pump(sess *termSession) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 && t.sink.Connected() {
			frame := models.TerminalOutputMessage{
				Type:      typeTerminalOutput,
				SessionID: sess.id,
				Data:      string(buf[:n]),
			}
			if serr := t.sink.SendJSON(frame); serr != nil {
				t.logger.Debug("Terminal output send failed", zap.Error(serr))
			}
		}
		if err != nil {
			break
		}
	}

	exitCode := 0
	if err := sess.cmd.Wait(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	t.mu.Lock()
	_, live := t.sessions[sess.id]
	delete(t.sessions, sess.id)
	t.mu.Unlock()

	if live {
		t.logger.Info("Terminal session ended",
			zap.String("session_id", sess.id), zap.Int("exit_code", exitCode))
		if t.sink.Connected() {
			_ = t.sink.SendJSON(models.TerminalExitMessage{
				Type:      typeTerminalExit,
				SessionID: sess.id,
				ExitCode:  exitCode,
			})
		}
	}
}

func (t *Terminal) input(p models.TerminalPayload) {
	t.mu.Lock()
	sess, ok := t.sessions[p.SessionID]
	if ok {
		sess.lastActive = time.Now()
	}
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("Input for unknown terminal session",
			zap.String("session_id", p.SessionID))
		return
	}
	if _, err := sess.ptmx.Write([]byte(p.Data)); err != nil {
		t.logger.Warn("Terminal write failed", zap.Error(err))
	}
}

func (t *Terminal) resize(p models.TerminalPayload) {
	t.mu.Lock()
	sess, ok := t.sessions[p.SessionID]
	if ok {
		sess.lastActive = time.Now()
	}
	t.mu.Unlock()
	if !ok || p.Rows <= 0 || p.Cols <= 0 {
		return
	}
	if err := pty.Setsize(sess.ptmx, &pty.Winsize{Rows: uint16(p.Rows), Cols: uint16(p.Cols)}); err != nil {
		t.logger.Warn("Terminal resize failed", zap.Error(err))
	}
}

func (t *Terminal) destroy(sessionID, reason string) {
	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if ok {
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.logger.Info("Destroying terminal session",
		zap.String("session_id", sessionID), zap.String("reason", reason))
	_ = sess.ptmx.Close()
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
}

// Run reaps idle sessions until ctx ends.
func (t *Terminal) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.reapIdle()
		}
	}
}

func (t *Terminal) reapIdle() {
	cutoff := time.Now().Add(-t.idleTimeout)

	t.mu.Lock()
	var idle []string
	for id, sess := range t.sessions {
		if sess.lastActive.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	t.mu.Unlock()

	for _, id := range idle {
		t.destroy(id, "idle timeout")
	}
}

// CloseAll terminates every session, used at shutdown.
func (t *Terminal) CloseAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.destroy(id, "agent shutdown")
	}
}

func (t *Terminal) ack(sessionID, action string, success bool, message, errMsg string) {
	if !t.sink.Connected() {
		return
	}
	_ = t.sink.SendJSON(models.TerminalAckMessage{
		Type:      typeTerminalAck,
		SessionID: sessionID,
		Action:    action,
		Success:   success,
		Message:   message,
		Error:     errMsg,
	})
}
