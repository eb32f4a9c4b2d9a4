package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"dryerlink/models"
)

// Handler interfaces implemented by the domain services and injected into
// the dispatcher, keeping the transport free of domain imports.
type (
	// CommandRunner executes operational commands (reboot, service restart).
	CommandRunner interface {
		Execute(ctx context.Context, commandType, command string) error
	}

	// UpdateRunner launches a software update without blocking dispatch.
	UpdateRunner interface {
		Apply(url, version string)
	}

	// AccessController opens a time-boxed remote access window.
	AccessController interface {
		Grant(duration time.Duration, token string) error
	}

	// TerminalHandler services remote terminal actions.
	TerminalHandler interface {
		Handle(p models.TerminalPayload)
	}

	// APIRelay forwards configuration writes to the local controller API.
	APIRelay interface {
		Apply(ctx context.Context, updates []models.APIUpdate) error
	}

	// HistoryHandler answers the history sync protocol.
	HistoryHandler interface {
		ReportAvailability(ctx context.Context, messageID string)
		SendBatch(ctx context.Context, messageID string, req models.BatchRequest)
		ResolveBatch(ctx context.Context, messageID string, ack models.BatchAck)
	}
)

// Dispatcher routes inbound envelopes by type to the registered handlers.
// Unknown types are logged and dropped. Every command-style frame is
// acknowledged; acks produced while offline queue for replay.
type Dispatcher struct {
	conn   Conn
	queue  *Queue
	acks   *AckTracker
	logger *zap.Logger

	Commands CommandRunner
	Updates  UpdateRunner
	Access   AccessController
	Terminal TerminalHandler
	Relay    APIRelay
	History  HistoryHandler
	Streams  *StreamManager
}

func NewDispatcher(conn Conn, queue *Queue, acks *AckTracker, streams *StreamManager, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		conn:    conn,
		queue:   queue,
		acks:    acks,
		Streams: streams,
		logger:  logger,
	}
}

func (d *Dispatcher) Dispatch(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.logger.Warn("Dropping malformed frame", zap.Error(err))
		return
	}

	switch env.Type {
	case models.TypeHeartbeat, models.TypePing:
		// Server-initiated ping; answer right away rather than waiting for
		// our own heartbeat cadence.
		if d.conn != nil && d.conn.Connected() {
			reply, err := json.Marshal(models.NewHeartbeat())
			if err == nil {
				if err := d.conn.SendRaw(reply); err != nil {
					d.logger.Debug("Heartbeat reply failed", zap.Error(err))
				}
			}
		}

	case models.TypeAck:
		id := env.ID
		if id == "" {
			id = env.MessageID
		}
		if id == "" {
			id = env.CommandID
		}
		d.acks.Acknowledge(id)

	case models.TypeCommand:
		d.ackCommand(commandKey(env))
		if env.CommandType == models.TypeTerminalAccess {
			// Terminal actions can also arrive nested in a command frame.
			if d.Terminal == nil {
				return
			}
			var p models.TerminalPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				d.logger.Warn("Malformed terminal payload", zap.Error(err))
				return
			}
			d.Terminal.Handle(p)
			return
		}
		if d.Commands == nil {
			d.logger.Warn("Command received but no runner wired",
				zap.String("commandType", env.CommandType))
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := d.Commands.Execute(ctx, env.CommandType, env.Command); err != nil {
				d.logger.Error("Command execution failed",
					zap.String("commandType", env.CommandType), zap.Error(err))
			}
		}()

	case models.TypeSoftwareUpdate:
		d.ackCommand(commandKey(env))
		if d.Updates != nil {
			d.Updates.Apply(env.URL, env.Version)
		}

	case models.TypeSSHAccess:
		d.ackCommand(commandKey(env))
		if d.Access != nil {
			duration := time.Duration(env.DurationSec) * time.Second
			if err := d.Access.Grant(duration, env.Token); err != nil {
				d.logger.Error("Failed to open access window", zap.Error(err))
			}
		}

	case models.TypeTerminalAccess:
		if d.Terminal == nil {
			return
		}
		var p models.TerminalPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			d.logger.Warn("Malformed terminal payload", zap.Error(err))
			return
		}
		d.Terminal.Handle(p)

	case models.TypeStartStream:
		d.ackCommand(commandKey(env))
		d.Streams.Start(env.StreamType)

	case models.TypeStopStream:
		d.ackCommand(commandKey(env))
		d.Streams.Stop(env.StreamType)

	case models.TypeUpdateAPI:
		d.ackCommand(commandKey(env))
		if d.Relay == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.Relay.Apply(ctx, env.Updates); err != nil {
				d.logger.Error("Local API update failed", zap.Error(err))
			}
		}()

	case models.TypeHistoryRequestAvailability:
		if d.History == nil {
			return
		}
		go d.History.ReportAvailability(context.Background(), env.MessageID)

	case models.TypeHistoryRequestBatch:
		if d.History == nil {
			return
		}
		var req models.BatchRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			d.logger.Warn("Malformed batch request", zap.Error(err))
			return
		}
		go d.History.SendBatch(context.Background(), env.MessageID, req)

	case models.TypeHistoryBatchAck:
		if d.History == nil {
			return
		}
		var ack models.BatchAck
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			d.logger.Warn("Malformed batch ack", zap.Error(err))
			return
		}
		go d.History.ResolveBatch(context.Background(), env.MessageID, ack)

	default:
		d.logger.Warn("Dropping frame of unknown type", zap.String("type", env.Type))
	}
}

// commandKey extracts the id a command-style frame must be acked under.
// Current frames carry "id"; older cloud versions used "commandId".
func commandKey(env models.Envelope) string {
	if env.ID != "" {
		return env.ID
	}
	return env.CommandID
}

// ackCommand confirms receipt of a command frame. When offline the ack is
// queued like any message and additionally remembered for replay.
func (d *Dispatcher) ackCommand(commandID string) {
	if commandID == "" {
		return
	}
	raw, err := json.Marshal(models.NewCommandAck(commandID))
	if err != nil {
		return
	}
	if d.conn == nil || !d.conn.Connected() {
		d.acks.QueueAck(commandID, raw)
	}
	d.queue.EnqueueRaw(raw)
}
