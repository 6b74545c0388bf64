// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package msgstats keeps lightweight in-process running statistics keyed by an
// arbitrary string, independent of the relational store. The viewer uses it
// for per-channel message-size counters.
package msgstats

import (
	"math"
	"sync"
)

// moments is a streaming accumulator of the first four central moments.
// Push updates follow the standard one-pass update formulas, so no samples
// are retained.
type moments struct {
	n              int64
	m1, m2, m3, m4 float64
	min, max       float64
}

func (m *moments) push(x float64) {
	n1 := float64(m.n)
	m.n++
	n := float64(m.n)

	if m.n == 1 {
		m.min, m.max = x, x
	} else {
		m.min = math.Min(m.min, x)
		m.max = math.Max(m.max, x)
	}

	delta := x - m.m1
	deltaN := delta / n
	deltaN2 := deltaN * deltaN
	term1 := delta * deltaN * n1

	m.m1 += deltaN
	m.m4 += term1*deltaN2*(n*n-3*n+3) + 6*deltaN2*m.m2 - 4*deltaN*m.m3
	m.m3 += term1*deltaN*(n-2) - 3*deltaN*m.m2
	m.m2 += term1
}

func (m *moments) mean() float64 { return m.m1 }

func (m *moments) variance() float64 {
	if m.n < 2 {
		return 0
	}
	return m.m2 / float64(m.n-1)
}

func (m *moments) stddev() float64 { return math.Sqrt(m.variance()) }

func (m *moments) skewness() float64 {
	if m.m2 == 0 {
		return 0
	}
	return math.Sqrt(float64(m.n)) * m.m3 / math.Pow(m.m2, 1.5)
}

func (m *moments) kurtosis() float64 {
	if m.m2 == 0 {
		return 0
	}
	return float64(m.n)*m.m4/(m.m2*m.m2) - 3
}

// Accumulator holds one running-statistics bucket per key, created lazily on
// first use, plus a global update counter. A single lock serializes all
// operations across all keys; contention is acceptable at expected call
// volumes.
type Accumulator struct {
	mu    sync.Mutex
	stats map[string]*moments
	count int64
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{stats: make(map[string]*moments)}
}

// Update pushes each sample into the bucket for key and increments the global
// update counter once.
func (a *Accumulator) Update(key string, samples ...float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.stats[key]
	if b == nil {
		b = &moments{}
		a.stats[key] = b
	}
	for _, x := range samples {
		b.push(x)
	}
	a.count++
}

// Snapshot is the queryable view of one bucket.
type Snapshot struct {
	Key      string  `json:"key"`
	Count    int64   `json:"count"`
	Mean     float64 `json:"mean"`
	Stddev   float64 `json:"stddev"`
	Minimum  float64 `json:"minimum"`
	Maximum  float64 `json:"maximum"`
	Skewness float64 `json:"skewness"`
	Kurtosis float64 `json:"kurtosis"`

	// Updates is the accumulator-wide update counter, not per key.
	Updates int64 `json:"updates"`
}

// Get returns the mean, standard deviation, and the global update counter for
// key. A key never updated reads as zeros (the bucket is created on access,
// matching insert-on-first-access semantics).
func (a *Accumulator) Get(key string) (mean, stddev float64, updates int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.stats[key]
	if b == nil {
		b = &moments{}
		a.stats[key] = b
	}
	return b.mean(), b.stddev(), a.count
}

// SnapshotOf returns the full statistics view for key, or ok=false when the
// key has never been updated.
func (a *Accumulator) SnapshotOf(key string) (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.stats[key]
	if !ok {
		return Snapshot{Key: key, Updates: a.count}, false
	}
	return Snapshot{
		Key:      key,
		Count:    b.n,
		Mean:     b.mean(),
		Stddev:   b.stddev(),
		Minimum:  b.min,
		Maximum:  b.max,
		Skewness: b.skewness(),
		Kurtosis: b.kurtosis(),
		Updates:  a.count,
	}, true
}

// Keys returns the bucket keys currently tracked.
func (a *Accumulator) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.stats))
	for k := range a.stats {
		keys = append(keys, k)
	}
	return keys
}
