// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ranking

import (
	"errors"
	"testing"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

func rowsWithStddev(values ...float64) []datatypes.AnomalyStat {
	rows := make([]datatypes.AnomalyStat, len(values))
	for i, v := range values {
		rows[i] = datatypes.AnomalyStat{
			App:  0,
			Rank: i,
			StatMoments: datatypes.StatMoments{
				Stddev: v,
			},
		}
	}
	return rows
}

func stddevs(rows []datatypes.AnomalyStat) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Stddev
	}
	return out
}

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRank_TopAndBottom(t *testing.T) {
	rows := rowsWithStddev(1, 5, 3, 9, 2)

	res, err := Rank(rows, "stddev", 2)
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if got := stddevs(res.Top); !equalFloats(got, []float64{9, 5}) {
		t.Errorf("top = %v, expected [9 5]", got)
	}
	if got := stddevs(res.Bottom); !equalFloats(got, []float64{2, 1}) {
		t.Errorf("bottom = %v, expected [2 1]", got)
	}
}

func TestRank_NLargerThanRows(t *testing.T) {
	rows := rowsWithStddev(4, 8, 6)

	res, err := Rank(rows, "stddev", 10)
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	expected := []float64{8, 6, 4}
	if got := stddevs(res.Top); !equalFloats(got, expected) {
		t.Errorf("top = %v, expected %v", got, expected)
	}
	if got := stddevs(res.Bottom); !equalFloats(got, expected) {
		t.Errorf("bottom = %v, expected %v", got, expected)
	}
}

func TestRank_StableOnTies(t *testing.T) {
	rows := []datatypes.AnomalyStat{
		{Rank: 0, StatMoments: datatypes.StatMoments{Mean: 5}},
		{Rank: 1, StatMoments: datatypes.StatMoments{Mean: 5}},
		{Rank: 2, StatMoments: datatypes.StatMoments{Mean: 5}},
	}

	res, err := Rank(rows, "mean", 3)
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	for i, r := range res.Top {
		if r.Rank != i {
			t.Errorf("tie order broken: position %d holds rank %d", i, r.Rank)
		}
	}
}

func TestRank_EmptyRows(t *testing.T) {
	res, err := Rank(nil, "stddev", 5)
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if len(res.Top) != 0 || len(res.Bottom) != 0 {
		t.Errorf("expected empty result, got top=%d bottom=%d", len(res.Top), len(res.Bottom))
	}
}

func TestRank_UnknownStatField(t *testing.T) {
	_, err := Rank(rowsWithStddev(1), "p99", 1)
	if !errors.Is(err, datatypes.ErrUnknownStatField) {
		t.Errorf("err = %v, expected ErrUnknownStatField", err)
	}
}

func TestRank_InputNotMutated(t *testing.T) {
	rows := rowsWithStddev(1, 9, 5)
	if _, err := Rank(rows, "stddev", 1); err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if got := stddevs(rows); !equalFloats(got, []float64{1, 9, 5}) {
		t.Errorf("input mutated: %v", got)
	}
}
