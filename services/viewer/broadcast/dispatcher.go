// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"sort"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// Publisher is the injected fan-out capability. The hub satisfies it; tests
// substitute a recorder.
type Publisher interface {
	Publish(event string, payload any)
}

// RankedDataset is one named subset of the ranking payload.
type RankedDataset struct {
	Name string                  `json:"name"`
	Stat []datatypes.AnomalyStat `json:"stat"`
}

// RankingPayload is the update_stats event body.
type RankingPayload struct {
	NQueries int             `json:"nQueries"`
	StatKind string          `json:"statKind"`
	Data     []RankedDataset `json:"data"`
}

// Dispatcher formats ranked and historical payloads for the push channel.
type Dispatcher struct {
	pub Publisher
}

// NewDispatcher wraps the given publish capability.
func NewDispatcher(pub Publisher) *Dispatcher {
	return &Dispatcher{pub: pub}
}

// PublishRanking emits the update_stats event carrying the TOP and BOTTOM
// subsets. Nothing is emitted unless both subsets are non-empty.
func (d *Dispatcher) PublishRanking(q *datatypes.StatQuery, top, bottom []datatypes.AnomalyStat) {
	if len(top) == 0 || len(bottom) == 0 {
		return
	}
	n := q.NQueries
	if n > len(top) {
		n = len(top)
	}
	d.pub.Publish(EventUpdateStats, RankingPayload{
		NQueries: n,
		StatKind: q.StatKind,
		Data: []RankedDataset{
			{Name: "TOP", Stat: top},
			{Name: "BOTTOM", Stat: bottom},
		},
	})
}

// PublishHistory filters rows to the ranks the query subscribes to, sorts
// them ascending by min_timestamp and emits them as a flat update_history
// list. An empty rank set emits nothing.
func (d *Dispatcher) PublishHistory(q *datatypes.StatQuery, rows []datatypes.AnomalyData) {
	if len(q.Ranks) == 0 {
		return
	}

	selected := make([]datatypes.AnomalyData, 0, len(rows))
	for _, r := range rows {
		if q.WantsRank(r.Rank) {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].MinTimestamp < selected[j].MinTimestamp
	})
	d.pub.Publish(EventUpdateHistory, selected)
}

// PublishSimulationResult emits the terminal run_simulation event. result is
// "OK" on success, otherwise a short error message.
func (d *Dispatcher) PublishSimulationResult(result string) {
	d.pub.Publish(EventRunSimulation, map[string]string{"result": result})
}

// PublishExecutions emits a resolved execution list on the data channel.
func (d *Dispatcher) PublishExecutions(spans []datatypes.ExecSpan) {
	if len(spans) == 0 {
		return
	}
	d.pub.Publish(EventUpdatedData, map[string]any{
		"type": "execution",
		"data": spans,
	})
}
