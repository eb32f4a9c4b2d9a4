package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"dryerlink/models"
)

// History records live in monthly partition tables named history_YYYYMM.
// Partitions are created ahead of need and reclaimed by the external
// retention job.

func partitionName(t time.Time) string {
	return fmt.Sprintf("history_%04d%02d", t.UTC().Year(), int(t.UTC().Month()))
}

const partitionSchema = `CREATE TABLE IF NOT EXISTS %s (
	sync_id TEXT PRIMARY KEY,
	device_serial TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	aggregation_start TIMESTAMP NOT NULL,
	aggregation_end TIMESTAMP NOT NULL,
	product TEXT NOT NULL DEFAULT 'corn',
	mode TEXT NOT NULL DEFAULT 'unknown',
	dryer_state TEXT NOT NULL DEFAULT 'unknown',
	inlet_moisture REAL,
	outlet_moisture REAL,
	inlet_temperature REAL,
	outlet_temperature REAL,
	discharge_rate REAL,
	moisture_target REAL,
	apt REAL,
	sample_count INTEGER NOT NULL,
	data_quality INTEGER NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	sync_batch_id TEXT,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	synced_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// EnsurePartitions creates the partition for now and the following month.
func (s *Store) EnsurePartitions(ctx context.Context, now time.Time) error {
	for _, t := range []time.Time{now, now.AddDate(0, 1, 0)} {
		name := partitionName(t)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(partitionSchema, name)); err != nil {
			return fmt.Errorf("ensure partition %s: %w", name, err)
		}
		idx := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_sync ON %s (device_serial, sync_status, recorded_at)`,
			name, name)
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("index partition %s: %w", name, err)
		}
	}
	return nil
}

// partitions returns all existing partition table names in ascending
// time order, optionally limited to those overlapping [start, end].
func (s *Store) partitions(ctx context.Context, start, end *time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'history_2%'`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		month, err := time.Parse("200601", strings.TrimPrefix(name, "history_"))
		if err != nil {
			continue
		}
		monthEnd := month.AddDate(0, 1, 0)
		if start != nil && !monthEnd.After(start.UTC()) {
			continue
		}
		if end != nil && month.After(end.UTC()) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, rows.Err()
}

// InsertRecord stores one aggregation window, creating its partition if the
// collector outran the periodic partition check.
func (s *Store) InsertRecord(ctx context.Context, rec *models.HistoryRecord) error {
	name := partitionName(rec.RecordedAt)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(partitionSchema, name)); err != nil {
		return fmt.Errorf("ensure partition %s: %w", name, err)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			sync_id, device_serial, recorded_at, aggregation_start, aggregation_end,
			product, mode, dryer_state,
			inlet_moisture, outlet_moisture, inlet_temperature, outlet_temperature,
			discharge_rate, moisture_target, apt,
			sample_count, data_quality, sync_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`, name),
		rec.SyncID, rec.DeviceSerial,
		rec.RecordedAt.UTC(), rec.AggregationStart.UTC(), rec.AggregationEnd.UTC(),
		rec.Product, rec.Mode, rec.DryerState,
		nullable(rec.InletMoisture), nullable(rec.OutletMoisture),
		nullable(rec.InletTemperature), nullable(rec.OutletTemperature),
		nullable(rec.DischargeRate), nullable(rec.MoistureTarget), nullable(rec.APT),
		rec.SampleCount, rec.DataQuality, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Availability reports record timestamp bounds and per-status counts.
func (s *Store) Availability(ctx context.Context, serial string) (models.Availability, error) {
	var avail models.Availability

	parts, err := s.partitions(ctx, nil, nil)
	if err != nil {
		return avail, err
	}

	for _, name := range parts {
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT MIN(recorded_at), MAX(recorded_at), COUNT(*),
			       COUNT(CASE WHEN sync_status = 'pending' THEN 1 END),
			       COUNT(CASE WHEN sync_status = 'syncing' THEN 1 END),
			       COUNT(CASE WHEN sync_status = 'synced' THEN 1 END),
			       COUNT(CASE WHEN sync_status = 'failed' THEN 1 END)
			FROM %s WHERE device_serial = ?`, name), serial)

		var oldest, newest sql.NullTime
		var total, pending, syncing, synced, failed int
		if err := row.Scan(&oldest, &newest, &total, &pending, &syncing, &synced, &failed); err != nil {
			return avail, fmt.Errorf("availability %s: %w", name, err)
		}

		avail.TotalRecords += total
		avail.PendingSync += pending
		avail.Syncing += syncing
		avail.Synced += synced
		avail.Failed += failed
		if oldest.Valid && (avail.OldestRecord == nil || oldest.Time.Before(*avail.OldestRecord)) {
			t := oldest.Time
			avail.OldestRecord = &t
		}
		if newest.Valid && (avail.NewestRecord == nil || newest.Time.After(*avail.NewestRecord)) {
			t := newest.Time
			avail.NewestRecord = &t
		}
	}
	return avail, nil
}

// ClaimBatch atomically selects up to maxRecords pending records inside
// [start, end] in ascending recorded_at order and flips them to syncing
// under batchID. The select-and-flip runs in one transaction so a concurrent
// claim can never take the same records.
func (s *Store) ClaimBatch(ctx context.Context, serial string, start, end time.Time, maxRecords int, batchID string) ([]models.HistoryRecord, error) {
	parts, err := s.partitions(ctx, &start, &end)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer tx.Rollback()

	var claimed []models.HistoryRecord
	remaining := maxRecords

	for _, name := range parts {
		if remaining <= 0 {
			break
		}
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			SELECT sync_id FROM %s
			WHERE device_serial = ? AND sync_status = 'pending'
			  AND recorded_at >= ? AND recorded_at <= ?
			ORDER BY recorded_at ASC LIMIT ?`, name),
			serial, start.UTC(), end.UTC(), remaining)
		if err != nil {
			return nil, fmt.Errorf("claim select %s: %w", name, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET sync_status = 'syncing', sync_batch_id = ?,
			       sync_attempts = sync_attempts + 1
			WHERE sync_id IN (%s)`, name, placeholders(len(ids))),
			append([]any{batchID}, toAny(ids)...)...); err != nil {
			return nil, fmt.Errorf("claim update %s: %w", name, err)
		}

		recs, err := s.fetchRecordsTx(ctx, tx, name, ids)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, recs...)
		remaining -= len(ids)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim commit: %w", err)
	}

	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].RecordedAt.Before(claimed[j].RecordedAt)
	})
	return claimed, nil
}

func (s *Store) fetchRecordsTx(ctx context.Context, tx *sql.Tx, table string, ids []string) ([]models.HistoryRecord, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT sync_id, device_serial, recorded_at, aggregation_start, aggregation_end,
		       product, mode, dryer_state,
		       inlet_moisture, outlet_moisture, inlet_temperature, outlet_temperature,
		       discharge_rate, moisture_target, apt,
		       sample_count, data_quality, sync_status, sync_attempts, created_at
		FROM %s WHERE sync_id IN (%s) ORDER BY recorded_at ASC`,
		table, placeholders(len(ids))), toAny(ids)...)
	if err != nil {
		return nil, fmt.Errorf("fetch records %s: %w", table, err)
	}
	defer rows.Close()

	var recs []models.HistoryRecord
	for rows.Next() {
		var (
			rec                         models.HistoryRecord
			im, om, it, ot, dr, mt, apt sql.NullFloat64
		)
		if err := rows.Scan(&rec.SyncID, &rec.DeviceSerial,
			&rec.RecordedAt, &rec.AggregationStart, &rec.AggregationEnd,
			&rec.Product, &rec.Mode, &rec.DryerState,
			&im, &om, &it, &ot, &dr, &mt, &apt,
			&rec.SampleCount, &rec.DataQuality, &rec.SyncStatus,
			&rec.SyncAttempts, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.InletMoisture = fromNull(im)
		rec.OutletMoisture = fromNull(om)
		rec.InletTemperature = fromNull(it)
		rec.OutletTemperature = fromNull(ot)
		rec.DischargeRate = fromNull(dr)
		rec.MoistureTarget = fromNull(mt)
		rec.APT = fromNull(apt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// ResolveBatch moves every record of batchID out of the syncing state.
// On success records become synced; otherwise they return to pending, or to
// the terminal failed state once sync_attempts has reached maxAttempts.
// It returns the number of records touched.
func (s *Store) ResolveBatch(ctx context.Context, batchID string, success bool, maxAttempts int) (int, error) {
	parts, err := s.partitions(ctx, nil, nil)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, name := range parts {
		var res sql.Result
		if success {
			res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
				UPDATE %s SET sync_status = 'synced', synced_at = CURRENT_TIMESTAMP
				WHERE sync_batch_id = ? AND sync_status = 'syncing'`, name), batchID)
		} else {
			res, err = s.db.ExecContext(ctx, fmt.Sprintf(`
				UPDATE %s SET sync_status = CASE
					WHEN sync_attempts >= ? THEN 'failed'
					ELSE 'pending'
				END
				WHERE sync_batch_id = ? AND sync_status = 'syncing'`, name),
				maxAttempts, batchID)
		}
		if err != nil {
			return int(total), fmt.Errorf("resolve batch %s: %w", name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Debug("Resolved sync batch",
			zap.String("batch_id", batchID),
			zap.Bool("success", success),
			zap.Int64("records", total))
	}
	return int(total), nil
}

// AppendSyncLog records one sync round in the event log.
func (s *Store) AppendSyncLog(ctx context.Context, e models.SyncLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history_sync_log
			(device_serial, batch_id, sync_start, sync_end, record_count, status, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DeviceSerial, e.BatchID, e.SyncStart.UTC(), e.SyncEnd.UTC(),
		e.RecordCount, e.Status, e.Duration.Milliseconds(), e.Error)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// SyncStates summarizes per-status counts and pending bounds for the
// device_sync_states report.
func (s *Store) SyncStates(ctx context.Context, serial string) (models.SyncStatePayload, error) {
	avail, err := s.Availability(ctx, serial)
	if err != nil {
		return models.SyncStatePayload{}, err
	}

	payload := models.SyncStatePayload{
		DeviceSerial: serial,
		Pending:      avail.PendingSync,
		Syncing:      avail.Syncing,
		Synced:       avail.Synced,
		Failed:       avail.Failed,
		Total:        avail.TotalRecords,
		Timestamp:    time.Now().UTC(),
	}

	parts, err := s.partitions(ctx, nil, nil)
	if err != nil {
		return payload, err
	}
	for _, name := range parts {
		row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT MIN(CASE WHEN sync_status = 'pending' THEN recorded_at END),
			       MAX(CASE WHEN sync_status = 'pending' THEN recorded_at END),
			       MAX(synced_at)
			FROM %s WHERE device_serial = ?`, name), serial)
		var oldestPending, newestPending, lastSync sql.NullTime
		if err := row.Scan(&oldestPending, &newestPending, &lastSync); err != nil {
			return payload, fmt.Errorf("sync states %s: %w", name, err)
		}
		if oldestPending.Valid && (payload.OldestPending == nil || oldestPending.Time.Before(*payload.OldestPending)) {
			t := oldestPending.Time
			payload.OldestPending = &t
		}
		if newestPending.Valid && (payload.NewestPending == nil || newestPending.Time.After(*payload.NewestPending)) {
			t := newestPending.Time
			payload.NewestPending = &t
		}
		if lastSync.Valid && (payload.LastSyncTime == nil || lastSync.Time.After(*payload.LastSyncTime)) {
			t := lastSync.Time
			payload.LastSyncTime = &t
		}
	}
	return payload, nil
}
