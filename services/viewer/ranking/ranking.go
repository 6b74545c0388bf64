// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ranking selects the top-N and bottom-N anomaly snapshots by a named
// statistic.
package ranking

import (
	"fmt"
	"sort"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// Result holds the two ranked subsets. Both are slices of one descending
// sorted sequence, so they overlap when n is large relative to the row count;
// at n == len(rows) they are identical. That overlap is intended behavior.
type Result struct {
	Top    []datatypes.AnomalyStat
	Bottom []datatypes.AnomalyStat
}

// Rank sorts rows descending by the statistic named statKind (ties keep input
// order) and returns the first and last n rows. n is clamped to the row
// count. Empty input produces an empty result and no error.
func Rank(rows []datatypes.AnomalyStat, statKind string, n int) (Result, error) {
	if !datatypes.IsStatKind(statKind) {
		return Result{}, fmt.Errorf("%w: %q", datatypes.ErrUnknownStatField, statKind)
	}
	if len(rows) == 0 {
		return Result{}, nil
	}

	sorted := make([]datatypes.AnomalyStat, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, _ := sorted[i].Field(statKind)
		b, _ := sorted[j].Field(statKind)
		return a > b
	})

	if n < 0 {
		n = 0
	}
	if n > len(sorted) {
		n = len(sorted)
	}

	return Result{
		Top:    sorted[:n],
		Bottom: sorted[len(sorted)-n:],
	}, nil
}
