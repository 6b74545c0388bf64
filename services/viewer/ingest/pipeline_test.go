// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// fakeStore implements the pipeline and replay store slices in memory.
type fakeStore struct {
	mu sync.Mutex

	stats   []datatypes.AnomalyStat
	history []datatypes.AnomalyData
	funcs   []datatypes.FuncStat
	query   datatypes.StatQuery
	sweeps  int

	failInsert bool
	failQuery  bool
}

var errBoom = errors.New("boom")

func newFakeStore() *fakeStore {
	return &fakeStore{
		query: datatypes.StatQuery{
			ID:       1,
			NQueries: datatypes.DefaultNQueries,
			StatKind: datatypes.DefaultStatKind,
			Ranks:    []int{},
		},
	}
}

func (f *fakeStore) InsertAnomalyStats(_ context.Context, rows []datatypes.AnomalyStat) error {
	if f.failInsert {
		return errBoom
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, rows...)
	return nil
}

func (f *fakeStore) InsertAnomalyData(_ context.Context, rows []datatypes.AnomalyData) error {
	if f.failInsert {
		return errBoom
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, rows...)
	return nil
}

func (f *fakeStore) InsertFuncStats(_ context.Context, rows []datatypes.FuncStat) error {
	if f.failInsert {
		return errBoom
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funcs = append(f.funcs, rows...)
	return nil
}

func (f *fakeStore) DeleteSupersededAnomalyStats(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0, nil
}

func (f *fakeStore) DeleteSupersededFuncStats(context.Context) (int64, error) {
	return 0, nil
}

func (f *fakeStore) LatestAnomalyStats(context.Context) ([]datatypes.AnomalyStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datatypes.AnomalyStat(nil), f.stats...), nil
}

func (f *fakeStore) CurrentQuery(context.Context) (*datatypes.StatQuery, error) {
	if f.failQuery {
		return nil, errBoom
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.query
	return &q, nil
}

func (f *fakeStore) AnomalyDataBounds(context.Context) (int64, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lo, hi int64
	ok := false
	for _, row := range f.history {
		if row.MaxTimestamp <= 0 {
			continue
		}
		if !ok || row.MaxTimestamp < lo {
			lo = row.MaxTimestamp
		}
		if !ok || row.MaxTimestamp > hi {
			hi = row.MaxTimestamp
		}
		ok = true
	}
	return lo, hi, ok, nil
}

func (f *fakeStore) AnomalyDataWindow(_ context.Context, lo, hi int64) ([]datatypes.AnomalyData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []datatypes.AnomalyData
	for _, row := range f.history {
		if row.MaxTimestamp >= lo && row.MaxTimestamp < hi {
			out = append(out, row)
		}
	}
	return out, nil
}

// fakeBroadcaster records every publication.
type fakeBroadcaster struct {
	mu       sync.Mutex
	rankings int
	history  [][]datatypes.AnomalyData
	results  []string
}

func (f *fakeBroadcaster) PublishRanking(*datatypes.StatQuery, []datatypes.AnomalyStat, []datatypes.AnomalyStat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankings++
}

func (f *fakeBroadcaster) PublishHistory(_ *datatypes.StatQuery, rows []datatypes.AnomalyData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, rows)
}

func (f *fakeBroadcaster) PublishSimulationResult(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

func shapedBatch(t *testing.T) *ShapedBatch {
	t.Helper()
	batch, err := ShapeBatch(&datatypes.IngestRequest{
		CreatedAt: ts(1000),
		Anomaly: []datatypes.AnomalyEntry{
			{
				Key:   "0:0",
				Stats: datatypes.StatMoments{Stddev: 2},
				Data: []datatypes.AnomalyData{
					{Step: 0, MinTimestamp: 10, MaxTimestamp: 20, NAnomalies: 1},
				},
			},
		},
	})
	require.NoError(t, err)
	return batch
}

func TestPipeline_ProcessPersistsSweepsAndBroadcasts(t *testing.T) {
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	var done int
	p := NewPipeline(store, bcast, nil, Hooks{
		BatchDone: func(rows int, _ time.Duration) { done = rows },
	})

	p.Process(context.Background(), shapedBatch(t))

	assert.Len(t, store.stats, 1)
	assert.Len(t, store.history, 1)
	assert.Equal(t, 1, store.sweeps)
	assert.Equal(t, 1, bcast.rankings)
	require.Len(t, bcast.history, 1)
	assert.Equal(t, 2, done)
}

func TestPipeline_StoreFailureSkipsBroadcast(t *testing.T) {
	store := newFakeStore()
	store.failInsert = true
	bcast := &fakeBroadcaster{}
	var failed int
	p := NewPipeline(store, bcast, nil, Hooks{BatchFail: func() { failed++ }})

	p.Process(context.Background(), shapedBatch(t))

	assert.Zero(t, bcast.rankings)
	assert.Empty(t, bcast.history)
	assert.Equal(t, 1, failed)
}

func TestPipeline_QueryFailureSkipsBroadcast(t *testing.T) {
	store := newFakeStore()
	store.failQuery = true
	bcast := &fakeBroadcaster{}
	p := NewPipeline(store, bcast, nil, Hooks{})

	p.Process(context.Background(), shapedBatch(t))

	assert.Zero(t, bcast.rankings)
	assert.Empty(t, bcast.history)
}

func TestPipeline_SubmitThroughPool(t *testing.T) {
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	pool := NewPool(2, 8, nil)
	p := NewPipeline(store, bcast, pool, Hooks{})

	require.True(t, p.Submit(shapedBatch(t)))
	pool.Shutdown()

	assert.Len(t, store.stats, 1)
	assert.Equal(t, 1, bcast.rankings)
}

func TestPool_DropsWhenFull(t *testing.T) {
	var dropped int
	pool := NewPool(1, 1, func() { dropped++ })

	block := make(chan struct{})
	pool.Submit(func(context.Context) { <-block })

	// One job fits the queue, the next is dropped.
	var fits, overflow bool
	for i := 0; i < 2; i++ {
		ok := pool.Submit(func(context.Context) {})
		if ok {
			fits = true
		} else {
			overflow = true
		}
	}
	close(block)
	pool.Shutdown()

	assert.True(t, fits)
	assert.True(t, overflow)
	assert.Equal(t, 1, dropped)
}

func TestSimulator_ReplaysWindowsAndSignalsOK(t *testing.T) {
	store := newFakeStore()
	store.history = []datatypes.AnomalyData{
		{Rank: 0, Step: 0, MaxTimestamp: 100},
		{Rank: 0, Step: 1, MaxTimestamp: 150},
		{Rank: 0, Step: 2, MaxTimestamp: 350},
	}
	bcast := &fakeBroadcaster{}

	// Window of 100 units, paced fast enough for a test run.
	sim := NewSimulator(store, bcast, 100, 1000)
	sim.Run(context.Background())

	// [100,200) holds two rows, [200,300) none, [300,400) one.
	require.Len(t, bcast.history, 2)
	assert.Len(t, bcast.history[0], 2)
	assert.Len(t, bcast.history[1], 1)
	assert.Equal(t, []string{"OK"}, bcast.results)
}

func TestSimulator_EmptyStoreStillSignalsOK(t *testing.T) {
	store := newFakeStore()
	bcast := &fakeBroadcaster{}

	sim := NewSimulator(store, bcast, 0, 1000)
	sim.Run(context.Background())

	assert.Empty(t, bcast.history)
	assert.Equal(t, []string{"OK"}, bcast.results)
}
