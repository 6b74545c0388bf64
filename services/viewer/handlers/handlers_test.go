// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anomview/AnomView/services/viewer/broadcast"
	"github.com/anomview/AnomView/services/viewer/datatypes"
	"github.com/anomview/AnomView/services/viewer/execution"
	"github.com/anomview/AnomView/services/viewer/ingest"
	"github.com/anomview/AnomView/services/viewer/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// nullPublisher drops every event; handler tests assert over HTTP, not the
// push channel.
type nullPublisher struct{}

func (nullPublisher) Publish(string, any) {}

type testEnv struct {
	store     *store.SQLiteStore
	pipeline  *ingest.Pipeline
	resolver  *execution.Resolver
	artifacts *execution.ArtifactStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "viewer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	dispatcher := broadcast.NewDispatcher(nullPublisher{})
	artifacts := execution.NewArtifactStore(t.TempDir())
	return &testEnv{
		store:     st,
		pipeline:  ingest.NewPipeline(st, dispatcher, nil, ingest.Hooks{}),
		resolver:  execution.NewResolver(st, artifacts, nil),
		artifacts: artifacts,
	}
}

func doRequest(router *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewAnomalyData_MissingTimestampIs400(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/api/anomalydata", NewAnomalyData(env.pipeline))

	w := doRequest(router, http.MethodPost, "/api/anomalydata", map[string]any{
		"anomaly": []map[string]any{{"key": "0:0"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNewAnomalyData_AcceptedIs201(t *testing.T) {
	env := newTestEnv(t)
	pool := ingest.NewPool(1, 4, nil)
	env.pipeline = ingest.NewPipeline(env.store, broadcast.NewDispatcher(nullPublisher{}), pool, ingest.Hooks{})
	router := gin.New()
	router.POST("/api/anomalydata", NewAnomalyData(env.pipeline))

	w := doRequest(router, http.MethodPost, "/api/anomalydata", map[string]any{
		"created_at": 1000,
		"anomaly": []map[string]any{
			{"key": "0:0", "stats": map[string]any{"stddev": 2.0}},
		},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Drain the pool so the batch lands before asserting persistence.
	pool.Shutdown()
	rows, err := env.store.LatestAnomalyStats(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestNewAnomalyData_MalformedEntryIs400(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/api/anomalydata", NewAnomalyData(env.pipeline))

	w := doRequest(router, http.MethodPost, "/api/anomalydata", map[string]any{
		"created_at": 1000,
		"anomaly":    []map[string]any{{"stats": map[string]any{}}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAnomalyData_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/api/get_anomalydata", GetAnomalyData(env.store))

	w := doRequest(router, http.MethodGet, "/api/get_anomalydata?rank=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/api/get_anomalydata?app=0&rank=0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestQueryHistory_PlaceholderForMissingStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.InsertAnomalyData(ctx, []datatypes.AnomalyData{
		{App: 0, Rank: 1, Step: 5, MinTimestamp: 10, MaxTimestamp: 20, NAnomalies: 2},
	}))

	router := gin.New()
	router.POST("/api/query_history", QueryHistory(env.store))

	w := doRequest(router, http.MethodPost, "/api/query_history", map[string]any{
		"qRanks":    []int{1, 2},
		"last_step": 4,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rows []datatypes.AnomalyData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].NAnomalies)
	assert.Equal(t, int64(-1), rows[1].ID)
	assert.Equal(t, int64(5), rows[1].Step)
}

func TestGetExecutions_RequiresMinTS(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/api/get_executions", GetExecutions(env.resolver))

	w := doRequest(router, http.MethodGet, "/api/get_executions", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/api/get_executions?min_ts=0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestQueryExecutionsFile_RequiresSelector(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.GET("/api/query_executions_file", QueryExecutionsFile(env.resolver))

	w := doRequest(router, http.MethodGet, "/api/query_executions_file", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryExecutionsFile_ServesArtifact(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.artifacts.Write(0, 1, 2, &datatypes.StepArtifact{
		Exec: []datatypes.ExecSpan{{Key: "e2", Entry: 5}, {Key: "e1", Entry: 2}},
		Comm: []datatypes.CommEvent{},
	}))

	router := gin.New()
	router.GET("/api/query_executions_file", QueryExecutionsFile(env.resolver))

	w := doRequest(router, http.MethodGet,
		"/api/query_executions_file?pid=0&rid=1&step=2&order=asc", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result execution.StepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Exec, 2)
	assert.Equal(t, "e1", result.Exec[0].Key)
}

func TestNewExecutions_AlwaysAcceptsParsedBatch(t *testing.T) {
	env := newTestEnv(t)
	router := gin.New()
	router.POST("/api/executions", NewExecutions(env.store, env.artifacts, false))

	step := int64(3)
	app, rank := 0, 0
	w := doRequest(router, http.MethodPost, "/api/executions", datatypes.ExecBatch{
		App: &app, Rank: &rank, Step: &step,
		Exec: []datatypes.ExecSpan{{Key: "e1", Entry: 1, Exit: 2}},
		Comm: []datatypes.CommEvent{},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Batch without addressing still returns 201; there is just no artifact.
	w = doRequest(router, http.MethodPost, "/api/executions", datatypes.ExecBatch{
		Exec: []datatypes.ExecSpan{{Key: "e2"}},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	got := env.artifacts.Read(0, 0, 3)
	require.NotNil(t, got)
	assert.Len(t, got.Exec, 1)
}

func TestGetFuncStats_FilterByFID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.InsertFuncStats(ctx, []datatypes.FuncStat{
		{FID: 1, Name: "f", KeyTS: "1:10", CreatedAt: 10},
		{FID: 2, Name: "g", KeyTS: "2:10", CreatedAt: 10},
	}))

	router := gin.New()
	router.GET("/api/get_funcstats", GetFuncStats(env.store))

	w := doRequest(router, http.MethodGet, "/api/get_funcstats?fid=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rows []datatypes.FuncStat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "g", rows[0].Name)
}
