// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the viewer's HTTP API. Handlers are thin: bind
// and validate, delegate to the pipeline/store/resolver, map errors to
// status codes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"

	"github.com/anomview/AnomView/services/viewer/datatypes"
	"github.com/anomview/AnomView/services/viewer/ingest"
	"github.com/anomview/AnomView/services/viewer/store"
)

var handlerTracer = otel.Tracer("anomview.viewer.handlers")

var validate = validator.New()

// NewAnomalyData accepts a telemetry batch, shapes it synchronously so
// malformed input is rejected before acceptance, and hands it to the async
// pipeline. 201 means accepted, not persisted.
func NewAnomalyData(pipeline *ingest.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := handlerTracer.Start(c.Request.Context(), "ingest.accept")
		defer span.End()

		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := validate.Struct(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "created_at is required"})
			return
		}

		batch, err := ingest.ShapeBatch(&req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pipeline.Submit(batch)
		c.JSON(http.StatusCreated, gin.H{})
	}
}

// GetAnomalyStats re-broadcasts the current ranking to all subscribers. The
// response body is intentionally empty; the data flows over the push channel.
func GetAnomalyStats(pipeline *ingest.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pipeline.BroadcastRanking(c.Request.Context()); err != nil {
			slog.Error("Failed to broadcast ranking", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to broadcast"})
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	}
}

// GetAnomalyData returns the most recent historical samples for one
// (app, rank) identity, oldest first. limit=0 returns everything.
func GetAnomalyData(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		app, err := strconv.Atoi(c.Query("app"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "app must be an integer"})
			return
		}
		rank, err := strconv.Atoi(c.Query("rank"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rank must be an integer"})
			return
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
		}

		rows, err := st.AnomalyHistory(c.Request.Context(),
			datatypes.StatKey{App: app, Rank: rank}, limit)
		if err != nil {
			slog.Error("Failed to query anomaly history", "app", app, "rank", rank, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if rows == nil {
			rows = []datatypes.AnomalyData{}
		}
		c.JSON(http.StatusOK, rows)
	}
}

// GetFuncStats returns the current per-function snapshots, optionally
// filtered to one function id.
func GetFuncStats(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fid *int
		if raw := c.Query("fid"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "fid must be an integer"})
				return
			}
			fid = &v
		}

		rows, err := st.LatestFuncStats(c.Request.Context(), fid)
		if err != nil {
			slog.Error("Failed to query function stats", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		if rows == nil {
			rows = []datatypes.FuncStat{}
		}
		c.JSON(http.StatusOK, rows)
	}
}

// RunSimulation starts a paced replay of the stored history in the
// background. The request returns immediately; completion is signaled on the
// push channel by the run_simulation event.
func RunSimulation(sim *ingest.Simulator) gin.HandlerFunc {
	return func(c *gin.Context) {
		go sim.Run(context.Background())
		c.JSON(http.StatusOK, gin.H{})
	}
}

// QueryHistory returns, for each requested rank, the sample at last_step+1,
// or a placeholder row with id -1 when the rank has no sample there. The
// response always has one element per requested rank, in request order.
func QueryHistory(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.HistoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.LastStep == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "last_step is required"})
			return
		}
		step := *req.LastStep + 1

		out := make([]datatypes.AnomalyData, 0, len(req.Ranks))
		for _, rank := range req.Ranks {
			row, err := st.AnomalyDataAtStep(c.Request.Context(),
				datatypes.StatKey{App: 0, Rank: rank}, step)
			if err != nil {
				slog.Error("Failed to query history step", "rank", rank, "step", step, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
			if row == nil {
				out = append(out, datatypes.EmptyAnomalyData(step))
			} else {
				out = append(out, *row)
			}
		}
		c.JSON(http.StatusOK, out)
	}
}
