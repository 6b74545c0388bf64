// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest reshapes raw telemetry batches into store rows and runs the
// asynchronous pipeline that persists them and triggers the broadcasts.
package ingest

import (
	"fmt"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// ShapedBatch is one ingest request flattened into insert-ready rows. All
// snapshots in a batch share the batch timestamp, so key_ts collides within
// a batch only if the same identity appears twice.
type ShapedBatch struct {
	CreatedAt int64
	Stats     []datatypes.AnomalyStat
	History   []datatypes.AnomalyData
	Funcs     []datatypes.FuncStat
}

// ShapeBatch validates and flattens an ingest request. The batch timestamp is
// mandatory; a malformed anomaly entry fails the whole batch so partial
// writes never happen.
func ShapeBatch(req *datatypes.IngestRequest) (*ShapedBatch, error) {
	if req.CreatedAt == nil {
		return nil, datatypes.ErrMissingTimestamp
	}
	createdAt := *req.CreatedAt

	out := &ShapedBatch{CreatedAt: createdAt}

	for i, entry := range req.Anomaly {
		key, err := entry.Identity()
		if err != nil {
			return nil, fmt.Errorf("anomaly entry %d: %w", i, err)
		}

		out.Stats = append(out.Stats, datatypes.AnomalyStat{
			App:         key.App,
			Rank:        key.Rank,
			Key:         key.String(),
			KeyTS:       key.KeyTS(createdAt),
			CreatedAt:   createdAt,
			StatMoments: entry.Stats,
		})

		for _, sample := range entry.Data {
			sample.App = key.App
			sample.Rank = key.Rank
			out.History = append(out.History, sample)
		}
	}

	for _, fn := range req.Func {
		out.Funcs = append(out.Funcs, datatypes.FuncStat{
			FID:       fn.FID,
			Name:      fn.Name,
			KeyTS:     datatypes.FuncKey{FID: fn.FID}.KeyTS(createdAt),
			CreatedAt: createdAt,
			Agg:       fn.Stats,
			Inclusive: fn.Inclusive,
			Exclusive: fn.Exclusive,
		})
	}

	return out, nil
}
