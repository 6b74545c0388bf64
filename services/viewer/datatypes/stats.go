// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and storage types shared by the viewer
// service: anomaly/function statistic snapshots, historical samples, the
// persisted broadcast query state, and the ingest request schema.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMissingTimestamp is returned when an ingest batch has no created_at.
	ErrMissingTimestamp = errors.New("ingest batch is missing created_at")

	// ErrMalformedKey is returned when a combined identity key does not parse
	// as "app:rank".
	ErrMalformedKey = errors.New("malformed identity key")

	// ErrMissingIdentity is returned when an anomaly entry carries neither a
	// combined key nor split app/rank fields.
	ErrMissingIdentity = errors.New("anomaly entry has no identity")

	// ErrUnknownStatField is returned when a ranking request names a statistic
	// that does not exist on the snapshot rows.
	ErrUnknownStatField = errors.New("unknown statistic field")

	// ErrInvalidQuery is returned when a query is missing its required
	// parameters (min_ts on the range form, pid/rid/step on the step form).
	ErrInvalidQuery = errors.New("invalid query parameters")
)

// =============================================================================
// Statistic set
// =============================================================================

// StatMoments is the fixed 8-field statistic set carried by every snapshot.
type StatMoments struct {
	Count      int64   `json:"count"`
	Accumulate float64 `json:"accumulate"`
	Minimum    float64 `json:"minimum"`
	Maximum    float64 `json:"maximum"`
	Mean       float64 `json:"mean"`
	Stddev     float64 `json:"stddev"`
	Skewness   float64 `json:"skewness"`
	Kurtosis   float64 `json:"kurtosis"`
}

// StatKinds lists the field names a ranking request may name, in wire order.
var StatKinds = []string{
	"count", "accumulate", "minimum", "maximum",
	"mean", "stddev", "skewness", "kurtosis",
}

// Field returns the named statistic as a float64. The second return is false
// when the name is not part of the statistic set.
func (m StatMoments) Field(name string) (float64, bool) {
	switch name {
	case "count":
		return float64(m.Count), true
	case "accumulate":
		return m.Accumulate, true
	case "minimum":
		return m.Minimum, true
	case "maximum":
		return m.Maximum, true
	case "mean":
		return m.Mean, true
	case "stddev":
		return m.Stddev, true
	case "skewness":
		return m.Skewness, true
	case "kurtosis":
		return m.Kurtosis, true
	}
	return 0, false
}

// IsStatKind reports whether name is a member of the statistic set.
func IsStatKind(name string) bool {
	_, ok := StatMoments{}.Field(name)
	return ok
}

// =============================================================================
// Composite keys
// =============================================================================

// StatKey identifies one (application, rank) pair. The string rendering
// "app:rank" exists only for the storage schema, which keys uniqueness on a
// single textual column.
type StatKey struct {
	App  int `json:"app"`
	Rank int `json:"rank"`
}

// String renders the storage form "app:rank".
func (k StatKey) String() string {
	return fmt.Sprintf("%d:%d", k.App, k.Rank)
}

// KeyTS renders the per-snapshot unique key "app:rank:created_at".
func (k StatKey) KeyTS(createdAt int64) string {
	return fmt.Sprintf("%d:%d:%d", k.App, k.Rank, createdAt)
}

// ParseStatKey parses the combined "app:rank" form.
func ParseStatKey(s string) (StatKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return StatKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	app, err := strconv.Atoi(parts[0])
	if err != nil {
		return StatKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	rank, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	return StatKey{App: app, Rank: rank}, nil
}

// FuncKey identifies one function across the run.
type FuncKey struct {
	FID int `json:"fid"`
}

// KeyTS renders the per-snapshot unique key "fid:created_at".
func (k FuncKey) KeyTS(createdAt int64) string {
	return fmt.Sprintf("%d:%d", k.FID, createdAt)
}

// =============================================================================
// Store rows
// =============================================================================

// AnomalyStat is one statistical snapshot for an (app, rank) pair. At most one
// row is current per pair: the one with maximal CreatedAt. Older rows are
// superseded and eligible for the retention sweep.
type AnomalyStat struct {
	ID        int64  `json:"id"`
	App       int    `json:"app"`
	Rank      int    `json:"rank"`
	Key       string `json:"key"`
	KeyTS     string `json:"key_ts"`
	CreatedAt int64  `json:"created_at"`
	StatMoments
}

// StatKey returns the typed identity of the snapshot.
func (s AnomalyStat) StatKey() StatKey {
	return StatKey{App: s.App, Rank: s.Rank}
}

// AnomalyData is one historical sample point tied to an AnomalyStat. Step
// values are non-decreasing per (app, rank) sequence.
type AnomalyData struct {
	ID           int64 `json:"id"`
	App          int   `json:"app"`
	Rank         int   `json:"rank"`
	Step         int64 `json:"step"`
	MinTimestamp int64 `json:"min_timestamp"`
	MaxTimestamp int64 `json:"max_timestamp"`
	NAnomalies   int64 `json:"n_anomalies"`
	StatID       int64 `json:"stat_id"`
}

// EmptyAnomalyData is the placeholder row returned by the history endpoint
// when a rank has no sample at the requested step.
func EmptyAnomalyData(step int64) AnomalyData {
	return AnomalyData{ID: -1, Step: step}
}

// FuncStat is one statistical snapshot for a function identity, carrying three
// parallel statistic groups: aggregate ("a"), inclusive time ("i") and
// exclusive time ("e"). The storage and wire forms are flat, with each group's
// fields renamed under its prefix (a_mean, i_stddev, ...).
type FuncStat struct {
	ID        int64  `json:"id"`
	FID       int    `json:"fid"`
	Name      string `json:"name"`
	KeyTS     string `json:"key_ts"`
	CreatedAt int64  `json:"created_at"`

	Agg       StatMoments `json:"-"`
	Inclusive StatMoments `json:"-"`
	Exclusive StatMoments `json:"-"`
}

// funcStatWire is the flattened wire form of FuncStat.
type funcStatWire struct {
	ID        int64  `json:"id"`
	FID       int    `json:"fid"`
	Name      string `json:"name"`
	KeyTS     string `json:"key_ts"`
	CreatedAt int64  `json:"created_at"`

	ACount      int64   `json:"a_count"`
	AAccumulate float64 `json:"a_accumulate"`
	AMinimum    float64 `json:"a_minimum"`
	AMaximum    float64 `json:"a_maximum"`
	AMean       float64 `json:"a_mean"`
	AStddev     float64 `json:"a_stddev"`
	ASkewness   float64 `json:"a_skewness"`
	AKurtosis   float64 `json:"a_kurtosis"`

	ICount      int64   `json:"i_count"`
	IAccumulate float64 `json:"i_accumulate"`
	IMinimum    float64 `json:"i_minimum"`
	IMaximum    float64 `json:"i_maximum"`
	IMean       float64 `json:"i_mean"`
	IStddev     float64 `json:"i_stddev"`
	ISkewness   float64 `json:"i_skewness"`
	IKurtosis   float64 `json:"i_kurtosis"`

	ECount      int64   `json:"e_count"`
	EAccumulate float64 `json:"e_accumulate"`
	EMinimum    float64 `json:"e_minimum"`
	EMaximum    float64 `json:"e_maximum"`
	EMean       float64 `json:"e_mean"`
	EStddev     float64 `json:"e_stddev"`
	ESkewness   float64 `json:"e_skewness"`
	EKurtosis   float64 `json:"e_kurtosis"`
}

func (s FuncStat) wire() funcStatWire {
	return funcStatWire{
		ID: s.ID, FID: s.FID, Name: s.Name, KeyTS: s.KeyTS, CreatedAt: s.CreatedAt,

		ACount: s.Agg.Count, AAccumulate: s.Agg.Accumulate,
		AMinimum: s.Agg.Minimum, AMaximum: s.Agg.Maximum,
		AMean: s.Agg.Mean, AStddev: s.Agg.Stddev,
		ASkewness: s.Agg.Skewness, AKurtosis: s.Agg.Kurtosis,

		ICount: s.Inclusive.Count, IAccumulate: s.Inclusive.Accumulate,
		IMinimum: s.Inclusive.Minimum, IMaximum: s.Inclusive.Maximum,
		IMean: s.Inclusive.Mean, IStddev: s.Inclusive.Stddev,
		ISkewness: s.Inclusive.Skewness, IKurtosis: s.Inclusive.Kurtosis,

		ECount: s.Exclusive.Count, EAccumulate: s.Exclusive.Accumulate,
		EMinimum: s.Exclusive.Minimum, EMaximum: s.Exclusive.Maximum,
		EMean: s.Exclusive.Mean, EStddev: s.Exclusive.Stddev,
		ESkewness: s.Exclusive.Skewness, EKurtosis: s.Exclusive.Kurtosis,
	}
}

// MarshalJSON flattens the three statistic groups under their prefixes.
func (s FuncStat) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

// UnmarshalJSON accepts the flattened wire form.
func (s *FuncStat) UnmarshalJSON(b []byte) error {
	var w funcStatWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = FuncStat{
		ID: w.ID, FID: w.FID, Name: w.Name, KeyTS: w.KeyTS, CreatedAt: w.CreatedAt,
		Agg: StatMoments{
			Count: w.ACount, Accumulate: w.AAccumulate,
			Minimum: w.AMinimum, Maximum: w.AMaximum,
			Mean: w.AMean, Stddev: w.AStddev,
			Skewness: w.ASkewness, Kurtosis: w.AKurtosis,
		},
		Inclusive: StatMoments{
			Count: w.ICount, Accumulate: w.IAccumulate,
			Minimum: w.IMinimum, Maximum: w.IMaximum,
			Mean: w.IMean, Stddev: w.IStddev,
			Skewness: w.ISkewness, Kurtosis: w.IKurtosis,
		},
		Exclusive: StatMoments{
			Count: w.ECount, Accumulate: w.EAccumulate,
			Minimum: w.EMinimum, Maximum: w.EMaximum,
			Mean: w.EMean, Stddev: w.EStddev,
			Skewness: w.ESkewness, Kurtosis: w.EKurtosis,
		},
	}
	return nil
}

// =============================================================================
// Query state
// =============================================================================

// DefaultNQueries and DefaultStatKind are the parameters used when no
// subscriber has ever asserted a query.
const (
	DefaultNQueries = 5
	DefaultStatKind = "stddev"
)

// StatQuery is the persisted broadcast parameters: how many top/bottom entries
// to rank, which statistic to rank by, and which ranks receive history pushes.
// Rows are append-only; the current state is the most recently created row.
type StatQuery struct {
	ID        int64  `json:"id"`
	NQueries  int    `json:"nQueries"`
	StatKind  string `json:"statKind"`
	Ranks     []int  `json:"ranks"`
	CreatedAt int64  `json:"created_at"`
}

// WantsRank reports whether rank is in the history subscription set.
func (q *StatQuery) WantsRank(rank int) bool {
	for _, r := range q.Ranks {
		if r == rank {
			return true
		}
	}
	return false
}
