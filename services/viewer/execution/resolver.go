// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package execution

import (
	"context"
	"sort"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// SpanStore is the slice of the storage layer the resolver needs.
type SpanStore interface {
	ExecSpans(ctx context.Context, q datatypes.RangeQuery) ([]datatypes.ExecSpan, error)
	SpansByProcess(ctx context.Context, pid, rid *int, order datatypes.SortOrder) ([]datatypes.ExecSpan, error)
}

// StepResult carries both halves of a resolved step.
type StepResult struct {
	Exec []datatypes.ExecSpan  `json:"exec"`
	Comm []datatypes.CommEvent `json:"comm"`
}

// Resolver serves execution queries from the store first and falls back to
// file artifacts for step lookups the store cannot answer. onTier, when set,
// observes which tier produced each step result ("store" or "file").
type Resolver struct {
	store     SpanStore
	artifacts *ArtifactStore
	onTier    func(tier string)
}

// NewResolver wires the two tiers together. onTier may be nil.
func NewResolver(store SpanStore, artifacts *ArtifactStore, onTier func(tier string)) *Resolver {
	return &Resolver{store: store, artifacts: artifacts, onTier: onTier}
}

// ResolveRange answers a timestamp-window query from the store. An empty
// result is an empty list, never nil, so callers serialize [].
func (r *Resolver) ResolveRange(ctx context.Context, q datatypes.RangeQuery) ([]datatypes.ExecSpan, error) {
	spans, err := r.store.ExecSpans(ctx, q)
	if err != nil {
		return nil, err
	}
	if spans == nil {
		spans = []datatypes.ExecSpan{}
	}
	return spans, nil
}

// ResolveStep answers a (pid, rid, step) lookup. The store is consulted
// first; when it has no matching spans the per-step file artifact is tried.
// Missing or unreadable artifacts yield an empty result rather than an
// error. Returns ErrInvalidQuery when no selector field is set.
func (r *Resolver) ResolveStep(ctx context.Context, q datatypes.StepQuery) (*StepResult, error) {
	if !q.Valid() {
		return nil, datatypes.ErrInvalidQuery
	}

	spans, err := r.store.SpansByProcess(ctx, q.PID, q.RID, q.Order)
	if err != nil {
		return nil, err
	}
	if len(spans) > 0 {
		r.observe("store")
		return &StepResult{Exec: spans, Comm: []datatypes.CommEvent{}}, nil
	}

	result := &StepResult{Exec: []datatypes.ExecSpan{}, Comm: []datatypes.CommEvent{}}
	if q.PID == nil || q.RID == nil || q.Step == nil {
		// The file tier is addressed by the full triple.
		return result, nil
	}

	artifact := r.artifacts.Read(*q.PID, *q.RID, *q.Step)
	if artifact == nil {
		return result, nil
	}
	r.observe("file")

	result.Exec = artifact.Exec
	result.Comm = artifact.Comm
	sortByEntry(result.Exec, q.Order)
	return result, nil
}

func (r *Resolver) observe(tier string) {
	if r.onTier != nil {
		r.onTier(tier)
	}
}

func sortByEntry(spans []datatypes.ExecSpan, order datatypes.SortOrder) {
	sort.SliceStable(spans, func(i, j int) bool {
		if order == datatypes.OrderDesc {
			return spans[i].Entry > spans[j].Entry
		}
		return spans[i].Entry < spans[j].Entry
	})
}
