// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anomview/AnomView/services/viewer/datatypes"
	_ "modernc.org/sqlite"
)

// commChunkSize bounds the IN(...) list when attaching comm events to spans.
const commChunkSize = 500

// SQLiteStore implements Store on a single sqlite database file. WAL mode
// allows concurrent readers while the ingest workers write.
type SQLiteStore struct {
	db  *sql.DB
	now func() int64
}

// NewSQLiteStore opens (or creates) the database at dbPath and initializes
// the schema. Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			slog.Warn("Failed to set pragma", "pragma", p, "error", err)
		}
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, now: func() int64 { return time.Now().UnixMicro() }}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("SQLite store initialized", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	for _, schema := range []string{statsSchema, executionSchema} {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Bulk ingest
// =============================================================================

func (s *SQLiteStore) InsertAnomalyStats(ctx context.Context, rows []datatypes.AnomalyStat) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin anomaly_stats insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomaly_stats
			(app, "rank", key, key_ts, created_at,
			 count, accumulate, minimum, maximum, mean, stddev, skewness, kurtosis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare anomaly_stats insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.App, r.Rank, r.Key, r.KeyTS, r.CreatedAt,
			r.Count, r.Accumulate, r.Minimum, r.Maximum,
			r.Mean, r.Stddev, r.Skewness, r.Kurtosis,
		); err != nil {
			return fmt.Errorf("insert anomaly_stats row %q: %w", r.KeyTS, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertAnomalyData(ctx context.Context, rows []datatypes.AnomalyData) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin anomaly_data insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomaly_data
			(app, "rank", step, min_timestamp, max_timestamp, n_anomalies, stat_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare anomaly_data insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.App, r.Rank, r.Step, r.MinTimestamp, r.MaxTimestamp, r.NAnomalies, r.StatID,
		); err != nil {
			return fmt.Errorf("insert anomaly_data row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertFuncStats(ctx context.Context, rows []datatypes.FuncStat) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin func_stats insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO func_stats
			(fid, name, key_ts, created_at,
			 a_count, a_accumulate, a_minimum, a_maximum, a_mean, a_stddev, a_skewness, a_kurtosis,
			 i_count, i_accumulate, i_minimum, i_maximum, i_mean, i_stddev, i_skewness, i_kurtosis,
			 e_count, e_accumulate, e_minimum, e_maximum, e_mean, e_stddev, e_skewness, e_kurtosis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare func_stats insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.FID, r.Name, r.KeyTS, r.CreatedAt,
			r.Agg.Count, r.Agg.Accumulate, r.Agg.Minimum, r.Agg.Maximum,
			r.Agg.Mean, r.Agg.Stddev, r.Agg.Skewness, r.Agg.Kurtosis,
			r.Inclusive.Count, r.Inclusive.Accumulate, r.Inclusive.Minimum, r.Inclusive.Maximum,
			r.Inclusive.Mean, r.Inclusive.Stddev, r.Inclusive.Skewness, r.Inclusive.Kurtosis,
			r.Exclusive.Count, r.Exclusive.Accumulate, r.Exclusive.Minimum, r.Exclusive.Maximum,
			r.Exclusive.Mean, r.Exclusive.Stddev, r.Exclusive.Skewness, r.Exclusive.Kurtosis,
		); err != nil {
			return fmt.Errorf("insert func_stats row %q: %w", r.KeyTS, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// Retention sweeps
// =============================================================================

func (s *SQLiteStore) DeleteSupersededAnomalyStats(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM anomaly_stats WHERE id IN (
			SELECT a.id FROM anomaly_stats a
			JOIN (
				SELECT app, "rank", MAX(created_at) AS max_ts
				FROM anomaly_stats GROUP BY app, "rank"
			) t ON a.app = t.app AND a."rank" = t."rank" AND a.created_at < t.max_ts
		)`)
	if err != nil {
		return 0, fmt.Errorf("anomaly stat retention sweep: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteSupersededFuncStats(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM func_stats WHERE id IN (
			SELECT f.id FROM func_stats f
			JOIN (
				SELECT fid, MAX(created_at) AS max_ts
				FROM func_stats GROUP BY fid
			) t ON f.fid = t.fid AND f.created_at < t.max_ts
		)`)
	if err != nil {
		return 0, fmt.Errorf("func stat retention sweep: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// Snapshot reads
// =============================================================================

const anomalyStatColumns = `id, app, "rank", key, key_ts, created_at,
	count, accumulate, minimum, maximum, mean, stddev, skewness, kurtosis`

func scanAnomalyStat(scanner interface{ Scan(...any) error }) (datatypes.AnomalyStat, error) {
	var r datatypes.AnomalyStat
	err := scanner.Scan(
		&r.ID, &r.App, &r.Rank, &r.Key, &r.KeyTS, &r.CreatedAt,
		&r.Count, &r.Accumulate, &r.Minimum, &r.Maximum,
		&r.Mean, &r.Stddev, &r.Skewness, &r.Kurtosis,
	)
	return r, err
}

func (s *SQLiteStore) LatestAnomalyStats(ctx context.Context) ([]datatypes.AnomalyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+anomalyStatColumns+` FROM anomaly_stats a
		JOIN (
			SELECT app AS t_app, "rank" AS t_rank, MAX(created_at) AS max_ts
			FROM anomaly_stats GROUP BY app, "rank"
		) t ON a.app = t.t_app AND a."rank" = t.t_rank AND a.created_at = t.max_ts
		ORDER BY a.app, a."rank"`)
	if err != nil {
		return nil, fmt.Errorf("query latest anomaly stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []datatypes.AnomalyStat
	for rows.Next() {
		r, err := scanAnomalyStat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly stat: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestAnomalyStat(ctx context.Context, key datatypes.StatKey) (*datatypes.AnomalyStat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+anomalyStatColumns+` FROM anomaly_stats a
		WHERE app = ? AND "rank" = ?
		ORDER BY created_at DESC LIMIT 1`, key.App, key.Rank)

	r, err := scanAnomalyStat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest anomaly stat %s: %w", key, err)
	}
	return &r, nil
}

const funcStatColumns = `id, fid, name, key_ts, created_at,
	a_count, a_accumulate, a_minimum, a_maximum, a_mean, a_stddev, a_skewness, a_kurtosis,
	i_count, i_accumulate, i_minimum, i_maximum, i_mean, i_stddev, i_skewness, i_kurtosis,
	e_count, e_accumulate, e_minimum, e_maximum, e_mean, e_stddev, e_skewness, e_kurtosis`

func (s *SQLiteStore) LatestFuncStats(ctx context.Context, fid *int) ([]datatypes.FuncStat, error) {
	query := `
		SELECT ` + funcStatColumns + ` FROM func_stats f
		JOIN (
			SELECT fid AS t_fid, MAX(created_at) AS max_ts
			FROM func_stats GROUP BY fid
		) t ON f.fid = t.t_fid AND f.created_at = t.max_ts`
	args := []any{}
	if fid != nil {
		query += ` WHERE f.fid = ?`
		args = append(args, *fid)
	}
	query += ` ORDER BY f.fid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest func stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []datatypes.FuncStat
	for rows.Next() {
		var r datatypes.FuncStat
		if err := rows.Scan(
			&r.ID, &r.FID, &r.Name, &r.KeyTS, &r.CreatedAt,
			&r.Agg.Count, &r.Agg.Accumulate, &r.Agg.Minimum, &r.Agg.Maximum,
			&r.Agg.Mean, &r.Agg.Stddev, &r.Agg.Skewness, &r.Agg.Kurtosis,
			&r.Inclusive.Count, &r.Inclusive.Accumulate, &r.Inclusive.Minimum, &r.Inclusive.Maximum,
			&r.Inclusive.Mean, &r.Inclusive.Stddev, &r.Inclusive.Skewness, &r.Inclusive.Kurtosis,
			&r.Exclusive.Count, &r.Exclusive.Accumulate, &r.Exclusive.Minimum, &r.Exclusive.Maximum,
			&r.Exclusive.Mean, &r.Exclusive.Stddev, &r.Exclusive.Skewness, &r.Exclusive.Kurtosis,
		); err != nil {
			return nil, fmt.Errorf("scan func stat: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Historical samples
// =============================================================================

const anomalyDataColumns = `id, app, "rank", step, min_timestamp, max_timestamp, n_anomalies, stat_id`

func scanAnomalyData(scanner interface{ Scan(...any) error }) (datatypes.AnomalyData, error) {
	var r datatypes.AnomalyData
	err := scanner.Scan(
		&r.ID, &r.App, &r.Rank, &r.Step,
		&r.MinTimestamp, &r.MaxTimestamp, &r.NAnomalies, &r.StatID,
	)
	return r, err
}

// AnomalyHistory returns the most recent `limit` samples for one (app, rank),
// in ascending step order. limit <= 0 means no limit.
func (s *SQLiteStore) AnomalyHistory(ctx context.Context, key datatypes.StatKey, limit int) ([]datatypes.AnomalyData, error) {
	query := `
		SELECT ` + anomalyDataColumns + ` FROM anomaly_data
		WHERE app = ? AND "rank" = ?
		ORDER BY step DESC`
	args := []any{key.App, key.Rank}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomaly history %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var out []datatypes.AnomalyData
	for rows.Next() {
		r, err := scanAnomalyData(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly data: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Queried newest-first for the LIMIT, served oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) AnomalyDataAtStep(ctx context.Context, key datatypes.StatKey, step int64) (*datatypes.AnomalyData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+anomalyDataColumns+` FROM anomaly_data
		WHERE app = ? AND "rank" = ? AND step = ?
		LIMIT 1`, key.App, key.Rank, step)

	r, err := scanAnomalyData(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query anomaly data at step %d for %s: %w", step, key, err)
	}
	return &r, nil
}

// AnomalyDataBounds returns the min/max of max_timestamp over rows with a
// positive max_timestamp. ok is false when no such rows exist.
func (s *SQLiteStore) AnomalyDataBounds(ctx context.Context) (int64, int64, bool, error) {
	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(max_timestamp), MAX(max_timestamp)
		FROM anomaly_data WHERE max_timestamp > 0`).Scan(&lo, &hi)
	if err != nil {
		return 0, 0, false, fmt.Errorf("query anomaly data bounds: %w", err)
	}
	if !lo.Valid || !hi.Valid {
		return 0, 0, false, nil
	}
	return lo.Int64, hi.Int64, true, nil
}

// AnomalyDataWindow returns samples with max_timestamp in [lo, hi).
func (s *SQLiteStore) AnomalyDataWindow(ctx context.Context, lo, hi int64) ([]datatypes.AnomalyData, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+anomalyDataColumns+` FROM anomaly_data
		WHERE max_timestamp >= ? AND max_timestamp < ?`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query anomaly data window [%d,%d): %w", lo, hi, err)
	}
	defer func() { _ = rows.Close() }()

	var out []datatypes.AnomalyData
	for rows.Next() {
		r, err := scanAnomalyData(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly data: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// Query state
// =============================================================================

func scanStatQuery(scanner interface{ Scan(...any) error }) (*datatypes.StatQuery, error) {
	var q datatypes.StatQuery
	var ranksJSON string
	if err := scanner.Scan(&q.ID, &q.NQueries, &q.StatKind, &ranksJSON, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ranksJSON), &q.Ranks); err != nil {
		return nil, fmt.Errorf("decode ranks %q: %w", ranksJSON, err)
	}
	return &q, nil
}

// CurrentQuery returns the most recently created query state, creating the
// default row inside the same transaction when the table is empty. The
// transaction makes concurrent first access yield a single default row.
func (s *SQLiteStore) CurrentQuery(ctx context.Context) (*datatypes.StatQuery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin query state read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, n_queries, stat_kind, ranks, created_at
		FROM stat_queries ORDER BY created_at DESC, id DESC LIMIT 1`)
	q, err := scanStatQuery(row)
	if err == nil {
		return q, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query current stat query: %w", err)
	}

	q = &datatypes.StatQuery{
		NQueries:  datatypes.DefaultNQueries,
		StatKind:  datatypes.DefaultStatKind,
		Ranks:     []int{},
		CreatedAt: s.now(),
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO stat_queries (n_queries, stat_kind, ranks, created_at)
		VALUES (?, ?, '[]', ?)`, q.NQueries, q.StatKind, q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert default stat query: %w", err)
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return q, tx.Commit()
}

// PutQuery appends a new query state row; last writer wins by creation time.
func (s *SQLiteStore) PutQuery(ctx context.Context, nQueries int, statKind string, ranks []int) (*datatypes.StatQuery, error) {
	if ranks == nil {
		ranks = []int{}
	}
	ranksJSON, err := json.Marshal(ranks)
	if err != nil {
		return nil, fmt.Errorf("encode ranks: %w", err)
	}

	q := &datatypes.StatQuery{
		NQueries:  nQueries,
		StatKind:  statKind,
		Ranks:     ranks,
		CreatedAt: s.now(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stat_queries (n_queries, stat_kind, ranks, created_at)
		VALUES (?, ?, ?, ?)`, nQueries, statKind, string(ranksJSON), q.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert stat query: %w", err)
	}
	if q.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return q, nil
}

// =============================================================================
// Execution spans
// =============================================================================

func (s *SQLiteStore) InsertExecSpans(ctx context.Context, rows []datatypes.ExecSpan) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin exec_data insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exec_data
			(key, name, pid, rid, tid, fid, entry, exit, runtime, exclusive,
			 label, parent, n_children, n_messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare exec_data insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Key, r.Name, r.PID, r.RID, r.TID, r.FID,
			r.Entry, r.Exit, r.Runtime, r.Exclusive,
			r.Label, r.Parent, r.NChildren, r.NMessages,
		); err != nil {
			return fmt.Errorf("insert exec_data row %q: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertCommEvents(ctx context.Context, rows []datatypes.CommEvent) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin comm_data insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comm_data
			(execdata_key, type, pid, rid, tid, src, tar, bytes, tag, timestamp, fid, name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare comm_data insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ExecKey, r.Type, r.PID, r.RID, r.TID, r.Src, r.Tar,
			r.Bytes, r.Tag, r.Timestamp, r.FID, r.Name,
		); err != nil {
			return fmt.Errorf("insert comm_data row: %w", err)
		}
	}
	return tx.Commit()
}

const execSpanColumns = `id, key, name, pid, rid, tid, fid, entry, exit,
	runtime, exclusive, label, parent, n_children, n_messages`

func (s *SQLiteStore) queryExecSpans(ctx context.Context, query string, args ...any) ([]datatypes.ExecSpan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exec spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []datatypes.ExecSpan
	for rows.Next() {
		var r datatypes.ExecSpan
		if err := rows.Scan(
			&r.ID, &r.Key, &r.Name, &r.PID, &r.RID, &r.TID, &r.FID,
			&r.Entry, &r.Exit, &r.Runtime, &r.Exclusive,
			&r.Label, &r.Parent, &r.NChildren, &r.NMessages,
		); err != nil {
			return nil, fmt.Errorf("scan exec span: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExecSpans answers the range form: entry >= MinTS, plus the optional exit
// bound and pid/rid filters, ordered by entry.
func (s *SQLiteStore) ExecSpans(ctx context.Context, q datatypes.RangeQuery) ([]datatypes.ExecSpan, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + execSpanColumns + ` FROM exec_data WHERE entry >= ?`)
	args := []any{q.MinTS}

	if q.MaxTS != nil {
		sb.WriteString(` AND exit <= ?`)
		args = append(args, *q.MaxTS)
	}
	if q.PID != nil {
		sb.WriteString(` AND pid = ?`)
		args = append(args, *q.PID)
	}
	if q.RID != nil {
		sb.WriteString(` AND rid = ?`)
		args = append(args, *q.RID)
	}
	sb.WriteString(` ORDER BY entry ` + orderSQL(q.Order))

	spans, err := s.queryExecSpans(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	if q.WithComm {
		if err := s.attachComm(ctx, spans); err != nil {
			return nil, err
		}
	}
	return spans, nil
}

// SpansByProcess answers the step form's store tier: all spans for the given
// pid/rid, ordered by entry.
func (s *SQLiteStore) SpansByProcess(ctx context.Context, pid, rid *int, order datatypes.SortOrder) ([]datatypes.ExecSpan, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + execSpanColumns + ` FROM exec_data WHERE 1=1`)
	args := []any{}

	if pid != nil {
		sb.WriteString(` AND pid = ?`)
		args = append(args, *pid)
	}
	if rid != nil {
		sb.WriteString(` AND rid = ?`)
		args = append(args, *rid)
	}
	sb.WriteString(` ORDER BY entry ` + orderSQL(order))

	return s.queryExecSpans(ctx, sb.String(), args...)
}

func orderSQL(order datatypes.SortOrder) string {
	if order == datatypes.OrderDesc {
		return "DESC"
	}
	return "ASC"
}

// attachComm fills each span's Comm list by matching execdata_key, chunking
// the IN list to stay under sqlite's parameter limit.
func (s *SQLiteStore) attachComm(ctx context.Context, spans []datatypes.ExecSpan) error {
	if len(spans) == 0 {
		return nil
	}
	byKey := make(map[string]*datatypes.ExecSpan, len(spans))
	keys := make([]string, 0, len(spans))
	for i := range spans {
		if _, seen := byKey[spans[i].Key]; !seen {
			keys = append(keys, spans[i].Key)
		}
		byKey[spans[i].Key] = &spans[i]
	}

	for start := 0; start < len(keys); start += commChunkSize {
		end := start + commChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, execdata_key, type, pid, rid, tid, src, tar, bytes, tag, timestamp, fid, name
			FROM comm_data WHERE execdata_key IN (`+placeholders+`)
			ORDER BY timestamp`, args...)
		if err != nil {
			return fmt.Errorf("query comm events: %w", err)
		}

		for rows.Next() {
			var c datatypes.CommEvent
			if err := rows.Scan(
				&c.ID, &c.ExecKey, &c.Type, &c.PID, &c.RID, &c.TID,
				&c.Src, &c.Tar, &c.Bytes, &c.Tag, &c.Timestamp, &c.FID, &c.Name,
			); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan comm event: %w", err)
			}
			if span, ok := byKey[c.ExecKey]; ok {
				span.Comm = append(span.Comm, c)
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
