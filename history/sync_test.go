package history

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dryerlink/config"
	"dryerlink/models"
	"dryerlink/store"
)

type fakeOutbound struct {
	msgs []any
}

func (o *fakeOutbound) Publish(msg any) error {
	o.msgs = append(o.msgs, msg)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeOutbound) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	out := &fakeOutbound{}
	cfg := &config.Config{
		SyncAckTimeout:  time.Minute,
		SyncMaxRecords:  200,
		SyncMaxAttempts: 3,
	}
	e := NewEngine(st, out, func() string { return "DEV-1" }, cfg, zap.NewNop())
	return e, st, out
}

func seed(t *testing.T, st *store.Store, n int, start time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EnsurePartitions(ctx, start))
	for i := 0; i < n; i++ {
		v := 15.5
		require.NoError(t, st.InsertRecord(ctx, &models.HistoryRecord{
			DeviceSerial:     "DEV-1",
			SyncID:           fmt.Sprintf("sync-%03d", i),
			RecordedAt:       start.Add(time.Duration(i) * time.Minute),
			AggregationStart: start.Add(time.Duration(i-1) * time.Minute),
			AggregationEnd:   start.Add(time.Duration(i) * time.Minute),
			Product:          "corn",
			Mode:             "automatic",
			DryerState:       "running",
			OutletMoisture:   &v,
			SampleCount:      60,
			DataQuality:      100,
		}))
	}
}

func decodeBatch(t *testing.T, payload models.BatchDataPayload) []models.HistoryRecord {
	t.Helper()
	compressed, err := base64.StdEncoding.DecodeString(payload.Data)
	require.NoError(t, err)
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	var recs []models.HistoryRecord
	require.NoError(t, json.Unmarshal(raw, &recs))
	return recs
}

func TestSendBatchCompressedRoundTrip(t *testing.T) {
	e, _, out := newTestEngine(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seed(t, e.store, 10, start)
	ctx := context.Background()

	e.SendBatch(ctx, "msg-1", models.BatchRequest{
		StartTime:  start.Add(-time.Hour),
		EndTime:    start.Add(time.Hour),
		MaxRecords: 5,
	})

	require.Len(t, out.msgs, 2)
	msg, ok := out.msgs[0].(models.BatchDataMessage)
	require.True(t, ok)
	assert.Equal(t, models.TypeHistoryBatchData, msg.Type)
	assert.Equal(t, "msg-1", msg.MessageID)

	// Every history round closes with a result ack for the request.
	ack, ok := out.msgs[1].(models.AckMessage)
	require.True(t, ok)
	assert.Equal(t, "msg-1", ack.MessageID)
	require.NotNil(t, ack.Success)
	assert.True(t, *ack.Success)
	assert.Equal(t, 5, msg.Payload.RecordCount)
	assert.True(t, msg.Payload.Compressed)
	assert.Len(t, msg.Payload.SyncIDs, 5)

	recs := decodeBatch(t, msg.Payload)
	require.Len(t, recs, 5)
	assert.Equal(t, "sync-000", recs[0].SyncID)
	assert.Equal(t, models.SyncSyncing, recs[0].SyncStatus)
}

func TestBatchAckMarksSynced(t *testing.T) {
	e, st, out := newTestEngine(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, 3, start)
	ctx := context.Background()

	e.SendBatch(ctx, "msg-1", models.BatchRequest{
		StartTime: start.Add(-time.Hour),
		EndTime:   start.Add(time.Hour),
	})
	require.Len(t, out.msgs, 2)
	batchID := out.msgs[0].(models.BatchDataMessage).Payload.BatchID

	e.ResolveBatch(ctx, "msg-2", models.BatchAck{BatchID: batchID, Status: "success"})

	require.Len(t, out.msgs, 3)
	ack := out.msgs[2].(models.AckMessage)
	assert.Equal(t, "msg-2", ack.MessageID)
	require.NotNil(t, ack.Success)
	assert.True(t, *ack.Success)

	avail, err := st.Availability(ctx, "DEV-1")
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Synced)
	assert.Equal(t, 0, avail.Syncing)
}

func TestBatchFailureReleasesClaim(t *testing.T) {
	e, st, out := newTestEngine(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, 3, start)
	ctx := context.Background()

	e.SendBatch(ctx, "msg-1", models.BatchRequest{
		StartTime: start.Add(-time.Hour),
		EndTime:   start.Add(time.Hour),
	})
	batchID := out.msgs[0].(models.BatchDataMessage).Payload.BatchID

	e.ResolveBatch(ctx, "msg-3", models.BatchAck{BatchID: batchID, Status: "failed", Error: "bad batch"})

	avail, err := st.Availability(ctx, "DEV-1")
	require.NoError(t, err)
	assert.Equal(t, 3, avail.PendingSync)
}

func TestEmptyWindowSendsEmptyBatch(t *testing.T) {
	e, _, out := newTestEngine(t)
	ctx := context.Background()

	e.SendBatch(ctx, "msg-1", models.BatchRequest{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now(),
	})

	require.Len(t, out.msgs, 2)
	msg := out.msgs[0].(models.BatchDataMessage)
	assert.Equal(t, 0, msg.Payload.RecordCount)
	assert.False(t, msg.Payload.Compressed)

	// An empty window is still a successful round.
	ack := out.msgs[1].(models.AckMessage)
	assert.Equal(t, "msg-1", ack.MessageID)
	require.NotNil(t, ack.Success)
	assert.True(t, *ack.Success)
}

func TestAvailabilityReport(t *testing.T) {
	e, st, out := newTestEngine(t)
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, 4, start)

	e.ReportAvailability(context.Background(), "msg-9")

	require.Len(t, out.msgs, 2)
	msg, ok := out.msgs[0].(models.AvailabilityReportMessage)
	require.True(t, ok)
	assert.Equal(t, "msg-9", msg.MessageID)
	assert.Equal(t, 4, msg.Payload.Availability.TotalRecords)
	assert.Equal(t, 4, msg.Payload.Availability.PendingSync)

	ack, ok := out.msgs[1].(models.AckMessage)
	require.True(t, ok)
	assert.Equal(t, "msg-9", ack.MessageID)
	require.NotNil(t, ack.Success)
	assert.True(t, *ack.Success)
}
