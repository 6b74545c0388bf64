// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "viewer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func anomalyStatAt(key datatypes.StatKey, createdAt int64, stddev float64) datatypes.AnomalyStat {
	return datatypes.AnomalyStat{
		App:       key.App,
		Rank:      key.Rank,
		Key:       key.String(),
		KeyTS:     key.KeyTS(createdAt),
		CreatedAt: createdAt,
		StatMoments: datatypes.StatMoments{
			Count:  1,
			Stddev: stddev,
		},
	}
}

func TestRetention_KeepsNewestPerIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := datatypes.StatKey{App: 0, Rank: 3}

	// Same logical identity ingested twice: two rows, no implicit dedup.
	require.NoError(t, s.InsertAnomalyStats(ctx, []datatypes.AnomalyStat{
		anomalyStatAt(key, 100, 1.0),
		anomalyStatAt(key, 200, 2.0),
	}))

	all, err := s.LatestAnomalyStats(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(200), all[0].CreatedAt)

	deleted, err := s.DeleteSupersededAnomalyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The sweep is idempotent.
	deleted, err = s.DeleteSupersededAnomalyStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	latest, err := s.LatestAnomalyStat(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(200), latest.CreatedAt)
	assert.Equal(t, key.KeyTS(200), latest.KeyTS)
}

func TestRetention_LeavesOrphanedSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := datatypes.StatKey{App: 0, Rank: 1}

	require.NoError(t, s.InsertAnomalyStats(ctx, []datatypes.AnomalyStat{
		anomalyStatAt(key, 100, 1.0),
		anomalyStatAt(key, 200, 2.0),
	}))
	require.NoError(t, s.InsertAnomalyData(ctx, []datatypes.AnomalyData{
		{App: 0, Rank: 1, Step: 0, MinTimestamp: 10, MaxTimestamp: 20, NAnomalies: 4, StatID: 1},
		{App: 0, Rank: 1, Step: 1, MinTimestamp: 20, MaxTimestamp: 30, NAnomalies: 2, StatID: 1},
	}))

	_, err := s.DeleteSupersededAnomalyStats(ctx)
	require.NoError(t, err)

	// Samples tied to the superseded snapshot survive the sweep by design.
	hist, err := s.AnomalyHistory(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestAnomalyHistory_AscendingWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := datatypes.StatKey{App: 0, Rank: 0}

	var rows []datatypes.AnomalyData
	for step := int64(0); step < 5; step++ {
		rows = append(rows, datatypes.AnomalyData{
			App: 0, Rank: 0, Step: step,
			MinTimestamp: step * 10, MaxTimestamp: step*10 + 5, NAnomalies: step,
		})
	}
	require.NoError(t, s.InsertAnomalyData(ctx, rows))

	hist, err := s.AnomalyHistory(ctx, key, 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	// Newest three, oldest first.
	assert.Equal(t, int64(2), hist[0].Step)
	assert.Equal(t, int64(4), hist[2].Step)
}

func TestAnomalyDataAtStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := datatypes.StatKey{App: 0, Rank: 2}

	require.NoError(t, s.InsertAnomalyData(ctx, []datatypes.AnomalyData{
		{App: 0, Rank: 2, Step: 7, MinTimestamp: 70, MaxTimestamp: 75, NAnomalies: 3},
	}))

	got, err := s.AnomalyDataAtStep(ctx, key, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.NAnomalies)

	missing, err := s.AnomalyDataAtStep(ctx, key, 8)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAnomalyDataBoundsAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.AnomalyDataBounds(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.InsertAnomalyData(ctx, []datatypes.AnomalyData{
		{App: 0, Rank: 0, Step: 0, MaxTimestamp: 0},  // excluded: not positive
		{App: 0, Rank: 0, Step: 1, MaxTimestamp: 50},
		{App: 0, Rank: 1, Step: 1, MaxTimestamp: 150},
	}))

	lo, hi, ok, err := s.AnomalyDataBounds(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(50), lo)
	assert.Equal(t, int64(150), hi)

	window, err := s.AnomalyDataWindow(ctx, 50, 150)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, int64(50), window[0].MaxTimestamp)
}

func TestCurrentQuery_CreatesDefaultOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q, err := s.CurrentQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, datatypes.DefaultNQueries, q.NQueries)
	assert.Equal(t, datatypes.DefaultStatKind, q.StatKind)
	assert.Empty(t, q.Ranks)

	again, err := s.CurrentQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, q.ID, again.ID)
}

func TestPutQuery_NewestWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Deterministic clock so the append-only versioning is observable.
	var clock int64
	s.now = func() int64 { clock += 10; return clock }

	_, err := s.PutQuery(ctx, 3, "mean", []int{1, 2})
	require.NoError(t, err)
	updated, err := s.PutQuery(ctx, 7, "kurtosis", nil)
	require.NoError(t, err)

	current, err := s.CurrentQuery(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated.ID, current.ID)
	assert.Equal(t, 7, current.NQueries)
	assert.Equal(t, "kurtosis", current.StatKind)
	assert.Empty(t, current.Ranks)
}

func TestExecSpans_RangeFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertExecSpans(ctx, []datatypes.ExecSpan{
		{Key: "e1", Name: "f", PID: 0, RID: 0, Entry: 10, Exit: 20, Label: datatypes.LabelNormal},
		{Key: "e2", Name: "g", PID: 0, RID: 1, Entry: 30, Exit: 40, Label: datatypes.LabelAbnormal},
		{Key: "e3", Name: "h", PID: 1, RID: 0, Entry: 50, Exit: 60, Label: datatypes.LabelNormal},
	}))

	spans, err := s.ExecSpans(ctx, datatypes.RangeQuery{MinTS: 20, Order: datatypes.OrderAsc})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "e2", spans[0].Key)

	rid := 1
	spans, err = s.ExecSpans(ctx, datatypes.RangeQuery{MinTS: 0, RID: &rid, Order: datatypes.OrderAsc})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "e2", spans[0].Key)

	maxTS := int64(40)
	spans, err = s.ExecSpans(ctx, datatypes.RangeQuery{MinTS: 0, MaxTS: &maxTS, Order: datatypes.OrderDesc})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "e2", spans[0].Key)
	assert.Equal(t, "e1", spans[1].Key)
}

func TestExecSpans_AttachesComm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertExecSpans(ctx, []datatypes.ExecSpan{
		{Key: "e1", Name: "f", Entry: 10, Exit: 20},
	}))
	require.NoError(t, s.InsertCommEvents(ctx, []datatypes.CommEvent{
		{ExecKey: "e1", Type: "SEND", Bytes: 128, Timestamp: 12, Name: "MPI_Send"},
		{ExecKey: "e1", Type: "RECV", Bytes: 64, Timestamp: 11, Name: "MPI_Recv"},
		{ExecKey: "other", Type: "SEND", Bytes: 1, Timestamp: 1, Name: "MPI_Send"},
	}))

	spans, err := s.ExecSpans(ctx, datatypes.RangeQuery{MinTS: 0, WithComm: true})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Comm, 2)
	// Ordered by timestamp.
	assert.Equal(t, "RECV", spans[0].Comm[0].Type)

	// Without the flag nothing is attached.
	spans, err = s.ExecSpans(ctx, datatypes.RangeQuery{MinTS: 0})
	require.NoError(t, err)
	assert.Nil(t, spans[0].Comm)
}

func TestSpansByProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertExecSpans(ctx, []datatypes.ExecSpan{
		{Key: "a", Name: "f", PID: 0, RID: 1, Entry: 5, Exit: 9},
		{Key: "b", Name: "g", PID: 0, RID: 1, Entry: 2, Exit: 4},
		{Key: "c", Name: "h", PID: 2, RID: 2, Entry: 1, Exit: 2},
	}))

	pid, rid := 0, 1
	spans, err := s.SpansByProcess(ctx, &pid, &rid, datatypes.OrderAsc)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "b", spans[0].Key)
	assert.Equal(t, "a", spans[1].Key)
}
