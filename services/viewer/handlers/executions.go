// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/anomview/AnomView/services/viewer/broadcast"
	"github.com/anomview/AnomView/services/viewer/datatypes"
	"github.com/anomview/AnomView/services/viewer/execution"
	"github.com/anomview/AnomView/services/viewer/ingest"
	"github.com/anomview/AnomView/services/viewer/store"
)

// NewExecutions accepts a per-step execution batch and dumps it to the file
// artifact tier. persist additionally writes the spans into the store so
// step queries can be served without touching disk. Producer errors are
// logged, never returned: the ingest side of this endpoint is
// fire-and-forget once the body parses.
func NewExecutions(st store.Store, artifacts *execution.ArtifactStore, persist bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch datatypes.ExecBatch
		if err := c.ShouldBindJSON(&batch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if batch.App != nil && batch.Rank != nil && batch.Step != nil {
			err := artifacts.Write(*batch.App, *batch.Rank, *batch.Step, &datatypes.StepArtifact{
				Exec: batch.Exec,
				Comm: batch.Comm,
			})
			if err != nil {
				slog.Error("Failed to write execution artifact",
					"app", *batch.App, "rank", *batch.Rank, "step", *batch.Step, "error", err)
			}
		} else {
			slog.Warn("Execution batch without app/rank/step, skipping artifact")
		}

		if persist {
			ctx := c.Request.Context()
			if len(batch.Exec) > 0 {
				if err := st.InsertExecSpans(ctx, batch.Exec); err != nil {
					slog.Error("Failed to persist execution spans", "error", err)
				}
			}
			if len(batch.Comm) > 0 {
				if err := st.InsertCommEvents(ctx, batch.Comm); err != nil {
					slog.Error("Failed to persist communication events", "error", err)
				}
			}
		}

		c.JSON(http.StatusCreated, gin.H{})
	}
}

func bindRangeQuery(c *gin.Context) (datatypes.RangeQuery, bool) {
	rawMin := c.Query("min_ts")
	if rawMin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_ts is required"})
		return datatypes.RangeQuery{}, false
	}
	minTS, err := strconv.ParseInt(rawMin, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_ts must be an integer"})
		return datatypes.RangeQuery{}, false
	}

	q := datatypes.RangeQuery{
		MinTS:    minTS,
		Order:    datatypes.ParseOrder(c.Query("order")),
		WithComm: c.Query("with_comm") == "true" || c.Query("with_comm") == "1",
	}
	if raw := c.Query("max_ts"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_ts must be an integer"})
			return datatypes.RangeQuery{}, false
		}
		q.MaxTS = &v
	}
	if raw := c.Query("pid"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pid must be an integer"})
			return datatypes.RangeQuery{}, false
		}
		q.PID = &v
	}
	if raw := c.Query("rid"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rid must be an integer"})
			return datatypes.RangeQuery{}, false
		}
		q.RID = &v
	}
	return q, true
}

func bindStepQuery(c *gin.Context) (datatypes.StepQuery, bool) {
	q := datatypes.StepQuery{Order: datatypes.ParseOrder(c.Query("order"))}
	if raw := c.Query("pid"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pid must be an integer"})
			return datatypes.StepQuery{}, false
		}
		q.PID = &v
	}
	if raw := c.Query("rid"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rid must be an integer"})
			return datatypes.StepQuery{}, false
		}
		q.RID = &v
	}
	if raw := c.Query("step"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "step must be an integer"})
			return datatypes.StepQuery{}, false
		}
		q.Step = &v
	}
	if !q.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of pid, rid, step is required"})
		return datatypes.StepQuery{}, false
	}
	return q, true
}

// GetExecutions answers a synchronous range query over stored spans.
func GetExecutions(resolver *execution.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := bindRangeQuery(c)
		if !ok {
			return
		}

		spans, err := resolver.ResolveRange(c.Request.Context(), q)
		if err != nil {
			slog.Error("Failed to resolve execution range", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, spans)
	}
}

// QueryExecutionsFile answers a synchronous step lookup, store tier first
// with file artifact fallback. The body is always {exec, comm}.
func QueryExecutionsFile(resolver *execution.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := bindStepQuery(c)
		if !ok {
			return
		}

		result, err := resolver.ResolveStep(c.Request.Context(), q)
		if err != nil {
			slog.Error("Failed to resolve execution step", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// QueryExecutions is the asynchronous variant of the range query: the
// request returns immediately and the resolved spans arrive on the push
// channel as an updated_data event.
func QueryExecutions(resolver *execution.Resolver, dispatcher *broadcast.Dispatcher, pool *ingest.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := bindRangeQuery(c)
		if !ok {
			return
		}

		pool.Submit(func(ctx context.Context) {
			spans, err := resolver.ResolveRange(ctx, q)
			if err != nil {
				slog.Error("Failed to resolve execution range", "error", err)
				return
			}
			dispatcher.PublishExecutions(spans)
		})
		c.JSON(http.StatusOK, gin.H{})
	}
}

// ExecutionSteps lists the (pid, rid, step) triples currently available in
// the artifact tier.
func ExecutionSteps(idx *execution.StepIndex) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, idx.Steps())
	}
}
