package history

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"dryerlink/config"
	"dryerlink/metrics"
	"dryerlink/models"
	"dryerlink/store"
)

// Outbound is the reliability layer the engine publishes through.
type Outbound interface {
	Publish(msg any) error
}

// syncStateInterval paces the unsolicited device_sync_states summary.
const syncStateInterval = 5 * time.Minute

type inflightBatch struct {
	timer   *time.Timer
	started time.Time
	records int
}

// Engine answers the cloud's history sync protocol: availability reports,
// batch claims, and batch-ack resolution. The cloud drives the pace; the
// engine guards each transmitted batch with an ack deadline that releases
// the claimed records if the cloud never answers.
type Engine struct {
	store       *store.Store
	out         Outbound
	serial      func() string
	ackTimeout  time.Duration
	maxRecords  int
	maxAttempts int
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[string]*inflightBatch
}

func NewEngine(st *store.Store, out Outbound, serial func() string, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		store:       st,
		out:         out,
		serial:      serial,
		ackTimeout:  cfg.SyncAckTimeout,
		maxRecords:  cfg.SyncMaxRecords,
		maxAttempts: cfg.SyncMaxAttempts,
		logger:      logger,
		inflight:    make(map[string]*inflightBatch),
	}
}

// Run emits the periodic device_sync_states summary until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(syncStateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ReportSyncState(ctx)
		}
	}
}

// ReportAvailability answers a history.request-availability frame. Every
// history round closes with a result ack carrying the request's messageId
// and a success flag.
func (e *Engine) ReportAvailability(ctx context.Context, messageID string) {
	avail, err := e.store.Availability(ctx, e.serial())
	if err != nil {
		e.logger.Error("Failed to compute history availability", zap.Error(err))
		e.resultAck(messageID, false, err.Error())
		return
	}

	msg := models.AvailabilityReportMessage{
		Type:      models.TypeHistoryAvailabilityReport,
		MessageID: messageID,
		Payload: models.AvailabilityReportPayload{
			DeviceSerial: e.serial(),
			Availability: avail,
			Timestamp:    time.Now().UTC(),
		},
	}
	if err := e.out.Publish(msg); err != nil {
		e.logger.Error("Failed to send availability report", zap.Error(err))
		e.resultAck(messageID, false, err.Error())
		return
	}
	e.logger.Info("Reported history availability",
		zap.Int("total", avail.TotalRecords),
		zap.Int("pending", avail.PendingSync))
	e.resultAck(messageID, true, "")
}

// SendBatch claims up to the requested number of pending records inside the
// requested window, transmits them compressed, and arms the ack deadline.
func (e *Engine) SendBatch(ctx context.Context, messageID string, req models.BatchRequest) {
	started := time.Now()
	max := req.MaxRecords
	if max <= 0 || max > e.maxRecords {
		max = e.maxRecords
	}

	batchID := uuid.NewString()
	recs, err := e.store.ClaimBatch(ctx, e.serial(), req.StartTime, req.EndTime, max, batchID)
	if err != nil {
		e.logger.Error("Batch claim failed", zap.Error(err))
		e.logRound(ctx, batchID, started, 0, "error", err.Error())
		e.resultAck(messageID, false, err.Error())
		return
	}

	payload := models.BatchDataPayload{
		DeviceSerial: e.serial(),
		BatchID:      batchID,
		RecordCount:  len(recs),
		Timestamp:    time.Now().UTC(),
	}

	if len(recs) > 0 {
		data, err := compressRecords(recs)
		if err != nil {
			e.logger.Error("Failed to compress batch", zap.Error(err))
			// Release the claim so the records are not stranded in syncing.
			if _, rerr := e.store.ResolveBatch(ctx, batchID, false, e.maxAttempts); rerr != nil {
				e.logger.Error("Failed to release batch claim", zap.Error(rerr))
			}
			e.logRound(ctx, batchID, started, len(recs), "error", err.Error())
			e.resultAck(messageID, false, err.Error())
			return
		}
		syncIDs := make([]string, len(recs))
		for i, r := range recs {
			syncIDs[i] = r.SyncID
		}
		first := recs[0].RecordedAt
		last := recs[len(recs)-1].RecordedAt
		payload.SyncIDs = syncIDs
		payload.Compressed = true
		payload.Data = data
		payload.StartTime = &first
		payload.EndTime = &last
	}

	msg := models.BatchDataMessage{
		Type:      models.TypeHistoryBatchData,
		MessageID: messageID,
		Payload:   payload,
	}
	if err := e.out.Publish(msg); err != nil {
		e.logger.Error("Failed to send batch", zap.Error(err))
		if _, rerr := e.store.ResolveBatch(ctx, batchID, false, e.maxAttempts); rerr != nil {
			e.logger.Error("Failed to release batch claim", zap.Error(rerr))
		}
		e.logRound(ctx, batchID, started, len(recs), "error", err.Error())
		e.resultAck(messageID, false, err.Error())
		return
	}

	metrics.SyncBatches.WithLabelValues("sent").Inc()
	e.logger.Info("Sent history batch",
		zap.String("batch_id", batchID),
		zap.Int("records", len(recs)))
	e.resultAck(messageID, true, "")

	if len(recs) == 0 {
		e.logRound(ctx, batchID, started, 0, "empty", "")
		return
	}

	e.mu.Lock()
	e.inflight[batchID] = &inflightBatch{
		started: started,
		records: len(recs),
		timer: time.AfterFunc(e.ackTimeout, func() {
			e.expireBatch(batchID)
		}),
	}
	e.mu.Unlock()
}

// ResolveBatch handles the cloud's history.batch-ack: synced on success,
// back to pending (or terminal failed over the attempt ceiling) otherwise.
func (e *Engine) ResolveBatch(ctx context.Context, messageID string, ack models.BatchAck) {
	e.mu.Lock()
	b, ok := e.inflight[ack.BatchID]
	if ok {
		b.timer.Stop()
		delete(e.inflight, ack.BatchID)
	}
	e.mu.Unlock()

	success := ack.Status == "success"
	n, err := e.store.ResolveBatch(ctx, ack.BatchID, success, e.maxAttempts)
	if err != nil {
		e.logger.Error("Failed to resolve batch", zap.Error(err))
		e.resultAck(messageID, false, err.Error())
		return
	}
	e.resultAck(messageID, true, "")

	started := time.Now()
	if ok {
		started = b.started
	}
	if success {
		metrics.SyncBatches.WithLabelValues("synced").Inc()
		e.logger.Info("Batch acknowledged",
			zap.String("batch_id", ack.BatchID), zap.Int("records", n))
		e.logRound(ctx, ack.BatchID, started, n, "synced", "")
	} else {
		metrics.SyncBatches.WithLabelValues("failed").Inc()
		e.logger.Warn("Batch rejected by cloud",
			zap.String("batch_id", ack.BatchID),
			zap.String("error", ack.Error))
		e.logRound(ctx, ack.BatchID, started, n, "failed", ack.Error)
	}
}

// expireBatch releases a claimed batch whose ack never arrived.
func (e *Engine) expireBatch(batchID string) {
	e.mu.Lock()
	b, ok := e.inflight[batchID]
	if ok {
		delete(e.inflight, batchID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.logger.Warn("Batch ack timed out, releasing claim",
		zap.String("batch_id", batchID), zap.Int("records", b.records))
	if _, err := e.store.ResolveBatch(ctx, batchID, false, e.maxAttempts); err != nil {
		e.logger.Error("Failed to release timed-out batch", zap.Error(err))
	}
	metrics.SyncBatches.WithLabelValues("timeout").Inc()
	e.logRound(ctx, batchID, b.started, b.records, "timeout", "ack timeout")
}

// ReportSyncState sends the unsolicited device_sync_states summary.
func (e *Engine) ReportSyncState(ctx context.Context) {
	payload, err := e.store.SyncStates(ctx, e.serial())
	if err != nil {
		e.logger.Error("Failed to compute sync states", zap.Error(err))
		return
	}
	msg := models.SyncStateMessage{
		Type:    models.TypeDeviceSyncStates,
		Payload: payload,
	}
	if err := e.out.Publish(msg); err != nil {
		e.logger.Error("Failed to send sync states", zap.Error(err))
	}
}

// resultAck closes a cloud-initiated history round. Rounds the engine
// starts itself (ack timeouts) carry no messageId and send nothing.
func (e *Engine) resultAck(messageID string, success bool, errMsg string) {
	if messageID == "" {
		return
	}
	if err := e.out.Publish(models.NewResultAck(messageID, success, errMsg)); err != nil {
		e.logger.Error("Failed to send result ack", zap.Error(err))
	}
}

func (e *Engine) logRound(ctx context.Context, batchID string, started time.Time, records int, status, errMsg string) {
	entry := models.SyncLogEntry{
		DeviceSerial: e.serial(),
		BatchID:      batchID,
		SyncStart:    started,
		SyncEnd:      time.Now(),
		RecordCount:  records,
		Status:       status,
		Duration:     time.Since(started),
		Error:        errMsg,
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		e.logger.Error("Failed to append sync log", zap.Error(err))
	}
}

// compressRecords gzips the JSON-encoded batch and wraps it base64 for the
// text frame.
func compressRecords(recs []models.HistoryRecord) (string, error) {
	raw, err := json.Marshal(recs)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", fmt.Errorf("compress batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("compress batch: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
