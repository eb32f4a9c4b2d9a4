package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dryerlink/models"
)

const testSerial = "DEV-TEST"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRecords(t *testing.T, s *Store, n int, start time.Time) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsurePartitions(ctx, start))

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		v := 20.0
		rec := &models.HistoryRecord{
			DeviceSerial:     testSerial,
			SyncID:           fmt.Sprintf("sync-%04d", i),
			RecordedAt:       start.Add(time.Duration(i) * time.Minute),
			AggregationStart: start.Add(time.Duration(i-1) * time.Minute),
			AggregationEnd:   start.Add(time.Duration(i) * time.Minute),
			Product:          "corn",
			Mode:             "automatic",
			DryerState:       "running",
			OutletMoisture:   &v,
			SampleCount:      60,
			DataQuality:      100,
		}
		require.NoError(t, s.InsertRecord(ctx, rec))
		ids[i] = rec.SyncID
	}
	return ids
}

func TestSyncStateMachine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seedRecords(t, s, 1, start)

	avail, err := s.Availability(ctx, testSerial)
	require.NoError(t, err)
	assert.Equal(t, 1, avail.PendingSync)

	claimed, err := s.ClaimBatch(ctx, testSerial, start.Add(-time.Hour), start.Add(time.Hour), 10, "batch-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "syncing", claimed[0].SyncStatus)
	assert.Equal(t, 1, claimed[0].SyncAttempts)

	n, err := s.ResolveBatch(ctx, "batch-1", true, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	avail, err = s.Availability(ctx, testSerial)
	require.NoError(t, err)
	assert.Equal(t, 0, avail.PendingSync)
	assert.Equal(t, 1, avail.Synced)
}

func TestFailedBatchReturnsToPendingUntilCeiling(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seedRecords(t, s, 1, start)

	windowStart := start.Add(-time.Hour)
	windowEnd := start.Add(time.Hour)

	// Two failed rounds keep the record claimable.
	for round := 1; round <= 2; round++ {
		batchID := fmt.Sprintf("batch-%d", round)
		claimed, err := s.ClaimBatch(ctx, testSerial, windowStart, windowEnd, 10, batchID)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "round %d", round)

		_, err = s.ResolveBatch(ctx, batchID, false, 3)
		require.NoError(t, err)

		avail, err := s.Availability(ctx, testSerial)
		require.NoError(t, err)
		assert.Equal(t, 1, avail.PendingSync, "round %d", round)
	}

	// The third failure reaches the attempt ceiling: terminal failed.
	claimed, err := s.ClaimBatch(ctx, testSerial, windowStart, windowEnd, 10, "batch-3")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 3, claimed[0].SyncAttempts)

	_, err = s.ResolveBatch(ctx, "batch-3", false, 3)
	require.NoError(t, err)

	avail, err := s.Availability(ctx, testSerial)
	require.NoError(t, err)
	assert.Equal(t, 0, avail.PendingSync)
	assert.Equal(t, 1, avail.Failed)

	// Failed records are permanently excluded from claims.
	claimed, err = s.ClaimBatch(ctx, testSerial, windowStart, windowEnd, 10, "batch-4")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimIsAscendingBoundedAndDisjoint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedRecords(t, s, 500, start)

	windowStart := start.Add(-time.Hour)
	windowEnd := start.Add(600 * time.Minute)

	first, err := s.ClaimBatch(ctx, testSerial, windowStart, windowEnd, 200, "batch-a")
	require.NoError(t, err)
	require.Len(t, first, 200)
	for i := 1; i < len(first); i++ {
		assert.False(t, first[i].RecordedAt.Before(first[i-1].RecordedAt),
			"records must come back in ascending time order")
	}
	assert.Equal(t, "sync-0000", first[0].SyncID, "claim must start from the oldest pending record")

	second, err := s.ClaimBatch(ctx, testSerial, windowStart, windowEnd, 200, "batch-b")
	require.NoError(t, err)
	require.Len(t, second, 200)

	taken := make(map[string]bool, len(first))
	for _, r := range first {
		taken[r.SyncID] = true
	}
	for _, r := range second {
		assert.False(t, taken[r.SyncID], "claims must never overlap")
	}
}

func TestClaimSpansMonthlyPartitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	endOfMonth := time.Date(2026, 3, 31, 23, 58, 0, 0, time.UTC)
	seedRecords(t, s, 5, endOfMonth) // crosses into April

	claimed, err := s.ClaimBatch(ctx, testSerial,
		endOfMonth.Add(-time.Hour), endOfMonth.Add(time.Hour), 10, "batch-x")
	require.NoError(t, err)
	assert.Len(t, claimed, 5)
}

func TestSyncLogAndStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seedRecords(t, s, 3, start)

	require.NoError(t, s.AppendSyncLog(ctx, models.SyncLogEntry{
		DeviceSerial: testSerial,
		BatchID:      "batch-1",
		SyncStart:    start,
		SyncEnd:      start.Add(time.Second),
		RecordCount:  3,
		Status:       "synced",
		Duration:     time.Second,
	}))

	states, err := s.SyncStates(ctx, testSerial)
	require.NoError(t, err)
	assert.Equal(t, 3, states.Pending)
	assert.Equal(t, 3, states.Total)
	require.NotNil(t, states.OldestPending)
	require.NotNil(t, states.NewestPending)
	assert.True(t, states.NewestPending.After(*states.OldestPending))
}
