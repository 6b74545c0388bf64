// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Span labels. Abnormal spans are the ones the anomaly detector flagged.
const (
	LabelNormal   = 1
	LabelAbnormal = -1
)

// ExecSpan is one recorded entry/exit timing interval for a function
// invocation on one process/rank/thread. Parent is a weak back-reference by
// key, not an owning pointer.
type ExecSpan struct {
	ID        int64  `json:"id,omitempty"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	PID       int    `json:"pid"`
	RID       int    `json:"rid"`
	TID       int    `json:"tid"`
	FID       int    `json:"fid"`
	Entry     int64  `json:"entry"`
	Exit      int64  `json:"exit"`
	Runtime   int64  `json:"runtime"`
	Exclusive int64  `json:"exclusive"`
	Label     int    `json:"label"`
	Parent    string `json:"parent"`
	NChildren int    `json:"n_children"`
	NMessages int    `json:"n_messages"`

	// Comm is populated only when the caller asked for communication events.
	Comm []CommEvent `json:"comm,omitempty"`
}

// CommEvent is one communication event (send or recv). It is associated to an
// ExecSpan by matching key; bulk insertion bypasses referential integrity for
// throughput, so the association is advisory.
type CommEvent struct {
	ID        int64  `json:"id,omitempty"`
	ExecKey   string `json:"execdata_key,omitempty"`
	Type      string `json:"type"`
	PID       int    `json:"pid"`
	RID       int    `json:"rid"`
	TID       int    `json:"tid"`
	Src       int    `json:"src"`
	Tar       int    `json:"tar"`
	Bytes     int64  `json:"bytes"`
	Tag       int    `json:"tag"`
	Timestamp int64  `json:"timestamp"`
	FID       int    `json:"fid"`
	Name      string `json:"name"`
}

// ExecBatch is the body of POST /api/executions. The app/rank/step triple
// addresses the artifact the batch is dumped to.
type ExecBatch struct {
	App  *int   `json:"app,omitempty"`
	Rank *int   `json:"rank,omitempty"`
	Step *int64 `json:"step,omitempty"`

	Exec []ExecSpan  `json:"exec"`
	Comm []CommEvent `json:"comm"`
}

// StepArtifact is the on-disk layout of one per-(pid,rid,step) dump.
type StepArtifact struct {
	Exec []ExecSpan  `json:"exec"`
	Comm []CommEvent `json:"comm"`
}

// SortOrder for range queries over span entry timestamps.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ParseOrder maps the wire value onto a SortOrder, defaulting to ascending.
func ParseOrder(s string) SortOrder {
	if s == string(OrderDesc) {
		return OrderDesc
	}
	return OrderAsc
}

// RangeQuery selects spans by time range: entry >= MinTS, and exit <= MaxTS,
// pid and rid when given.
type RangeQuery struct {
	MinTS    int64
	MaxTS    *int64
	PID      *int
	RID      *int
	Order    SortOrder
	WithComm bool
}

// StepQuery selects one per-(pid,rid,step) artifact.
type StepQuery struct {
	PID   *int
	RID   *int
	Step  *int64
	Order SortOrder
}

// Valid reports whether at least one addressing field is present.
func (q StepQuery) Valid() bool {
	return q.PID != nil || q.RID != nil || q.Step != nil
}

// StepRef names one artifact currently on disk.
type StepRef struct {
	PID  int   `json:"pid"`
	RID  int   `json:"rid"`
	Step int64 `json:"step"`
}
