// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists telemetry snapshots, historical samples, execution
// spans and the broadcast query state. The store is the single source of
// truth and the only point of mutual exclusion for persisted state; everything
// above it treats its transactional guarantees as a black box.
package store

import (
	"context"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// Store defines all persistence operations used by the viewer service.
type Store interface {
	// Bulk ingest. Inserts are append-only; snapshots are never updated in
	// place.
	InsertAnomalyStats(ctx context.Context, rows []datatypes.AnomalyStat) error
	InsertAnomalyData(ctx context.Context, rows []datatypes.AnomalyData) error
	InsertFuncStats(ctx context.Context, rows []datatypes.FuncStat) error

	// Retention sweeps delete every snapshot whose created_at is strictly
	// below the maximum within its identity group. Idempotent; historical
	// samples tied to removed snapshots are intentionally left in place.
	DeleteSupersededAnomalyStats(ctx context.Context) (int64, error)
	DeleteSupersededFuncStats(ctx context.Context) (int64, error)

	// Snapshot reads.
	LatestAnomalyStats(ctx context.Context) ([]datatypes.AnomalyStat, error)
	LatestAnomalyStat(ctx context.Context, key datatypes.StatKey) (*datatypes.AnomalyStat, error)
	LatestFuncStats(ctx context.Context, fid *int) ([]datatypes.FuncStat, error)

	// Historical sample reads.
	AnomalyHistory(ctx context.Context, key datatypes.StatKey, limit int) ([]datatypes.AnomalyData, error)
	AnomalyDataAtStep(ctx context.Context, key datatypes.StatKey, step int64) (*datatypes.AnomalyData, error)
	AnomalyDataBounds(ctx context.Context) (min, max int64, ok bool, err error)
	AnomalyDataWindow(ctx context.Context, lo, hi int64) ([]datatypes.AnomalyData, error)

	// Query state: append-only versioned rows; current = max created_at.
	// CurrentQuery creates the default row atomically when none exists.
	CurrentQuery(ctx context.Context) (*datatypes.StatQuery, error)
	PutQuery(ctx context.Context, nQueries int, statKind string, ranks []int) (*datatypes.StatQuery, error)

	// Execution spans.
	InsertExecSpans(ctx context.Context, rows []datatypes.ExecSpan) error
	InsertCommEvents(ctx context.Context, rows []datatypes.CommEvent) error
	ExecSpans(ctx context.Context, q datatypes.RangeQuery) ([]datatypes.ExecSpan, error)
	SpansByProcess(ctx context.Context, pid, rid *int, order datatypes.SortOrder) ([]datatypes.ExecSpan, error)

	Close() error
}
