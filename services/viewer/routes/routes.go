// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anomview/AnomView/services/viewer/broadcast"
	"github.com/anomview/AnomView/services/viewer/execution"
	"github.com/anomview/AnomView/services/viewer/handlers"
	"github.com/anomview/AnomView/services/viewer/ingest"
	"github.com/anomview/AnomView/services/viewer/msgstats"
	"github.com/anomview/AnomView/services/viewer/observability"
	"github.com/anomview/AnomView/services/viewer/store"
)

// Deps carries everything the route handlers need.
type Deps struct {
	Store      store.Store
	Pipeline   *ingest.Pipeline
	Simulator  *ingest.Simulator
	Pool       *ingest.Pool
	Resolver   *execution.Resolver
	Artifacts  *execution.ArtifactStore
	StepIndex  *execution.StepIndex
	Hub        *broadcast.Hub
	Dispatcher *broadcast.Dispatcher
	MsgStats   *msgstats.Accumulator
	Metrics    *observability.Metrics

	// PersistExecutions mirrors incoming execution batches into the store in
	// addition to the file artifact tier.
	PersistExecutions bool
}

// SetupRoutes registers the full viewer API on the router.
func SetupRoutes(router *gin.Engine, d Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	onCount := func(delta int) {
		d.Metrics.Subscribers.Add(float64(delta))
	}
	router.GET("/events/ws", handlers.EventStream(d.Hub, d.Store, onCount))

	api := router.Group("/api")
	{
		api.POST("/anomalydata", handlers.NewAnomalyData(d.Pipeline))
		api.GET("/get_anomalystats", handlers.GetAnomalyStats(d.Pipeline))
		api.GET("/get_anomalydata", handlers.GetAnomalyData(d.Store))
		api.GET("/get_funcstats", handlers.GetFuncStats(d.Store))
		api.GET("/run_simulation", handlers.RunSimulation(d.Simulator))
		api.POST("/query_history", handlers.QueryHistory(d.Store))

		api.POST("/executions", handlers.NewExecutions(d.Store, d.Artifacts, d.PersistExecutions))
		api.GET("/get_executions", handlers.GetExecutions(d.Resolver))
		api.GET("/query_executions", handlers.QueryExecutions(d.Resolver, d.Dispatcher, d.Pool))
		api.GET("/query_executions_file", handlers.QueryExecutionsFile(d.Resolver))
		api.GET("/execution_steps", handlers.ExecutionSteps(d.StepIndex))

		api.GET("/msgstats", handlers.GetMsgStats(d.MsgStats))
	}
}
