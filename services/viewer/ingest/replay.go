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

	"golang.org/x/time/rate"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// DefaultWindowSize is the replay window width in timestamp units.
const DefaultWindowSize = int64(1_000_000)

// ReplayStore is the slice of the storage layer the simulator needs.
type ReplayStore interface {
	AnomalyDataBounds(ctx context.Context) (min, max int64, ok bool, err error)
	AnomalyDataWindow(ctx context.Context, lo, hi int64) ([]datatypes.AnomalyData, error)
	CurrentQuery(ctx context.Context) (*datatypes.StatQuery, error)
}

// ReplayBroadcaster is the slice of the push channel the simulator needs.
type ReplayBroadcaster interface {
	PublishHistory(q *datatypes.StatQuery, rows []datatypes.AnomalyData)
	PublishSimulationResult(result string)
}

// Simulator replays stored historical samples as a paced sequence of
// update_history pushes, window by window over the sample timestamp range.
// The query parameters are re-read per window so subscription changes made
// mid-replay take effect immediately.
type Simulator struct {
	store      ReplayStore
	bcast      ReplayBroadcaster
	windowSize int64
	limiter    *rate.Limiter
}

// NewSimulator builds a simulator stepping windowSize timestamp units per
// emission at the given pace (windows per second). Non-positive arguments
// fall back to one-million-unit windows at one per second.
func NewSimulator(store ReplayStore, bcast ReplayBroadcaster, windowSize int64, pace float64) *Simulator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if pace <= 0 {
		pace = 1
	}
	return &Simulator{
		store:      store,
		bcast:      bcast,
		windowSize: windowSize,
		limiter:    rate.NewLimiter(rate.Limit(pace), 1),
	}
}

// Run replays the full stored range and always terminates with a
// run_simulation event: "OK" on success, the error text otherwise.
func (s *Simulator) Run(ctx context.Context) {
	if err := s.replay(ctx); err != nil {
		slog.Error("Simulation failed", "error", err)
		s.bcast.PublishSimulationResult(err.Error())
		return
	}
	s.bcast.PublishSimulationResult("OK")
}

func (s *Simulator) replay(ctx context.Context) error {
	lo, hi, ok, err := s.store.AnomalyDataBounds(ctx)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Simulation requested with no stored samples")
		return nil
	}

	windows := 0
	for cursor := lo; cursor <= hi; cursor += s.windowSize {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		rows, err := s.store.AnomalyDataWindow(ctx, cursor, cursor+s.windowSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		q, err := s.store.CurrentQuery(ctx)
		if err != nil {
			return err
		}
		s.bcast.PublishHistory(q, rows)
		windows++
	}

	slog.Info("Simulation complete", "windows", windows, "min_ts", lo, "max_ts", hi)
	return nil
}
