// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/anomview/AnomView/services/viewer/datatypes"
	"github.com/anomview/AnomView/services/viewer/ranking"
)

// PipelineStore is the slice of the storage layer the pipeline needs.
type PipelineStore interface {
	InsertAnomalyStats(ctx context.Context, rows []datatypes.AnomalyStat) error
	InsertAnomalyData(ctx context.Context, rows []datatypes.AnomalyData) error
	InsertFuncStats(ctx context.Context, rows []datatypes.FuncStat) error
	DeleteSupersededAnomalyStats(ctx context.Context) (int64, error)
	DeleteSupersededFuncStats(ctx context.Context) (int64, error)
	LatestAnomalyStats(ctx context.Context) ([]datatypes.AnomalyStat, error)
	CurrentQuery(ctx context.Context) (*datatypes.StatQuery, error)
}

// Broadcaster is the slice of the push channel the pipeline needs.
type Broadcaster interface {
	PublishRanking(q *datatypes.StatQuery, top, bottom []datatypes.AnomalyStat)
	PublishHistory(q *datatypes.StatQuery, rows []datatypes.AnomalyData)
}

// Hooks observe pipeline activity for metrics. Any field may be nil.
type Hooks struct {
	BatchDone func(rows int, elapsed time.Duration)
	BatchFail func()
}

// Pipeline is the asynchronous half of ingestion: persist a shaped batch,
// sweep superseded snapshots, then broadcast the refreshed ranking and the
// batch's own history rows. A storage failure is logged and ends processing
// for that batch; it never surfaces to the producer.
type Pipeline struct {
	store PipelineStore
	bcast Broadcaster
	pool  *Pool
	hooks Hooks
}

// NewPipeline wires the pipeline to its store, broadcaster and worker pool.
func NewPipeline(store PipelineStore, bcast Broadcaster, pool *Pool, hooks Hooks) *Pipeline {
	return &Pipeline{store: store, bcast: bcast, pool: pool, hooks: hooks}
}

// Submit hands a shaped batch to the worker pool. Returns false when the
// queue is full.
func (p *Pipeline) Submit(batch *ShapedBatch) bool {
	return p.pool.Submit(func(ctx context.Context) {
		p.Process(ctx, batch)
	})
}

// Process runs one batch to completion. Exported so the simulator and tests
// can drive the pipeline synchronously.
func (p *Pipeline) Process(ctx context.Context, batch *ShapedBatch) {
	start := time.Now()

	if err := p.persist(ctx, batch); err != nil {
		slog.Error("Failed to persist ingest batch",
			"created_at", batch.CreatedAt, "error", err)
		if p.hooks.BatchFail != nil {
			p.hooks.BatchFail()
		}
		return
	}

	p.sweep(ctx)

	q, err := p.store.CurrentQuery(ctx)
	if err != nil {
		slog.Error("Failed to load broadcast query", "error", err)
		if p.hooks.BatchFail != nil {
			p.hooks.BatchFail()
		}
		return
	}

	if err := p.publishRanking(ctx, q); err != nil {
		slog.Error("Failed to broadcast ranking", "error", err)
	}
	// History comes from the batch itself, not a re-read: subscribers see the
	// rows that just arrived even if a newer batch lands concurrently.
	p.bcast.PublishHistory(q, batch.History)

	rows := len(batch.Stats) + len(batch.History) + len(batch.Funcs)
	if p.hooks.BatchDone != nil {
		p.hooks.BatchDone(rows, time.Since(start))
	}
	slog.Debug("Ingest batch processed",
		"created_at", batch.CreatedAt,
		"stats", len(batch.Stats),
		"history", len(batch.History),
		"funcs", len(batch.Funcs),
		"elapsed", time.Since(start))
}

// BroadcastRanking re-ranks the current snapshots and pushes them under the
// persisted query parameters. Used both by the pipeline and by the endpoint
// that triggers a refresh on demand.
func (p *Pipeline) BroadcastRanking(ctx context.Context) error {
	q, err := p.store.CurrentQuery(ctx)
	if err != nil {
		return err
	}
	return p.publishRanking(ctx, q)
}

func (p *Pipeline) persist(ctx context.Context, batch *ShapedBatch) error {
	if len(batch.Stats) > 0 {
		if err := p.store.InsertAnomalyStats(ctx, batch.Stats); err != nil {
			return err
		}
	}
	if len(batch.History) > 0 {
		if err := p.store.InsertAnomalyData(ctx, batch.History); err != nil {
			return err
		}
	}
	if len(batch.Funcs) > 0 {
		if err := p.store.InsertFuncStats(ctx, batch.Funcs); err != nil {
			return err
		}
	}
	return nil
}

// sweep is best-effort: a failed retention pass leaves extra superseded rows
// behind, which the next pass reclaims.
func (p *Pipeline) sweep(ctx context.Context) {
	if _, err := p.store.DeleteSupersededAnomalyStats(ctx); err != nil {
		slog.Warn("Anomaly retention sweep failed", "error", err)
	}
	if _, err := p.store.DeleteSupersededFuncStats(ctx); err != nil {
		slog.Warn("Function retention sweep failed", "error", err)
	}
}

func (p *Pipeline) publishRanking(ctx context.Context, q *datatypes.StatQuery) error {
	rows, err := p.store.LatestAnomalyStats(ctx)
	if err != nil {
		return err
	}
	ranked, err := ranking.Rank(rows, q.StatKind, q.NQueries)
	if err != nil {
		return err
	}
	p.bcast.PublishRanking(q, ranked.Top, ranked.Bottom)
	return nil
}
