// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/anomview/AnomView/services/viewer/broadcast"
	"github.com/anomview/AnomView/services/viewer/config"
	"github.com/anomview/AnomView/services/viewer/execution"
	"github.com/anomview/AnomView/services/viewer/ingest"
	"github.com/anomview/AnomView/services/viewer/msgstats"
	"github.com/anomview/AnomView/services/viewer/observability"
	"github.com/anomview/AnomView/services/viewer/routes"
	"github.com/anomview/AnomView/services/viewer/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("ANOMVIEW_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := observability.InitTracer(
		cfg.Observability.OTLPEndpoint, cfg.Observability.ServiceName)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("failed to open the store: %v", err)
	}
	defer func() { _ = st.Close() }()

	msgStats := msgstats.New()
	hub := broadcast.NewHub(func(event string, size int) {
		msgStats.Update(event, float64(size))
		metrics.BroadcastsTotal.WithLabelValues(event).Inc()
	})
	dispatcher := broadcast.NewDispatcher(hub)

	pool := ingest.NewPool(cfg.Ingest.Workers, cfg.Ingest.QueueDepth, func() {
		metrics.IngestDroppedTotal.Inc()
	})
	defer pool.Shutdown()

	pipeline := ingest.NewPipeline(st, dispatcher, pool, ingest.Hooks{
		BatchDone: func(rows int, elapsed time.Duration) {
			metrics.IngestBatchesTotal.WithLabelValues("ok").Inc()
			metrics.IngestRowsTotal.Add(float64(rows))
			metrics.IngestDuration.Observe(elapsed.Seconds())
		},
		BatchFail: func() {
			metrics.IngestBatchesTotal.WithLabelValues("error").Inc()
		},
	})

	simulator := ingest.NewSimulator(st, dispatcher,
		cfg.Simulation.WindowSize, cfg.Simulation.Pace)

	artifacts := execution.NewArtifactStore(cfg.Storage.ExecutionPath)
	resolver := execution.NewResolver(st, artifacts, func(tier string) {
		metrics.ResolverLookupsTotal.WithLabelValues(tier).Inc()
	})

	stepIndex, err := execution.NewStepIndex(cfg.Storage.ExecutionPath)
	if err != nil {
		log.Fatalf("failed to index execution artifacts: %v", err)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := stepIndex.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			slog.Error("Artifact watcher stopped", "error", err)
		}
	}()

	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.Observability.ServiceName))

	routes.SetupRoutes(router, routes.Deps{
		Store:             st,
		Pipeline:          pipeline,
		Simulator:         simulator,
		Pool:              pool,
		Resolver:          resolver,
		Artifacts:         artifacts,
		StepIndex:         stepIndex,
		Hub:               hub,
		Dispatcher:        dispatcher,
		MsgStats:          msgStats,
		Metrics:           metrics,
		PersistExecutions: cfg.Storage.PersistExecutions,
	})

	slog.Info("Viewer service starting", "port", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
