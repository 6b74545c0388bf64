// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// IngestRequest is the body of POST /api/anomalydata. created_at is the single
// ingest timestamp applied to every snapshot produced from the batch; its
// absence is the only condition that fails the request as a whole.
type IngestRequest struct {
	CreatedAt *int64         `json:"created_at" validate:"required"`
	Anomaly   []AnomalyEntry `json:"anomaly" validate:"omitempty,dive"`
	Func      []FuncEntry    `json:"func" validate:"omitempty,dive"`
}

// AnomalyEntry is one per-rank statistic batch. Identity arrives in one of two
// shapes: a combined "app:rank" key, or split app/rank fields. Both normalize
// to the same StatKey.
type AnomalyEntry struct {
	Key  string `json:"key,omitempty"`
	App  *int   `json:"app,omitempty"`
	Rank *int   `json:"rank,omitempty"`

	Stats StatMoments   `json:"stats"`
	Data  []AnomalyData `json:"data,omitempty"`
}

// Identity normalizes the two identity shapes into a StatKey. The combined
// key wins when both shapes are present, matching the ingest contract.
func (e AnomalyEntry) Identity() (StatKey, error) {
	if e.Key != "" {
		return ParseStatKey(e.Key)
	}
	if e.App != nil && e.Rank != nil {
		return StatKey{App: *e.App, Rank: *e.Rank}, nil
	}
	return StatKey{}, ErrMissingIdentity
}

// FuncEntry is one per-function statistic batch with its three named groups.
type FuncEntry struct {
	FID       int         `json:"fid"`
	Name      string      `json:"name"`
	Stats     StatMoments `json:"stats"`
	Inclusive StatMoments `json:"inclusive"`
	Exclusive StatMoments `json:"exclusive"`
}

// QueryStatsRequest is the inbound websocket message (and its HTTP mirror)
// that updates the persisted broadcast parameters.
type QueryStatsRequest struct {
	NQueries *int   `json:"nQueries,omitempty"`
	StatKind string `json:"statKind,omitempty"`
	Ranks    []int  `json:"ranks,omitempty"`
}

// Normalize applies the subscription defaults and validates the stat kind.
func (r QueryStatsRequest) Normalize() (nQueries int, statKind string, ranks []int, err error) {
	nQueries = DefaultNQueries
	if r.NQueries != nil {
		nQueries = *r.NQueries
	}
	statKind = r.StatKind
	if statKind == "" {
		statKind = DefaultStatKind
	}
	if !IsStatKind(statKind) {
		return 0, "", nil, fmt.Errorf("%w: %q", ErrUnknownStatField, statKind)
	}
	ranks = r.Ranks
	if ranks == nil {
		ranks = []int{}
	}
	return nQueries, statKind, ranks, nil
}

// HistoryRequest is the body of POST /api/query_history: for each requested
// rank, return the sample at last_step+1 of the current snapshot.
type HistoryRequest struct {
	Ranks    []int  `json:"qRanks"`
	LastStep *int64 `json:"last_step"`
}
