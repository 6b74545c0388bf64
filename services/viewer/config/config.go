// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the viewer configuration with priority
// env > file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config contains all viewer configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Storage contains database and artifact settings.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Ingest contains pipeline settings.
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Simulation contains replay settings.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Observability contains tracing settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port string `json:"port" yaml:"port"`
}

// StorageConfig contains database and artifact settings.
type StorageConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`

	// ExecutionPath is the root of the per-step artifact tree. Empty disables
	// the file tier.
	ExecutionPath string `json:"execution_path" yaml:"execution_path"`

	// PersistExecutions mirrors incoming execution batches into the database
	// in addition to the artifact tree.
	PersistExecutions bool `json:"persist_executions" yaml:"persist_executions"`
}

// IngestConfig contains pipeline settings.
type IngestConfig struct {
	Workers    int `json:"workers" yaml:"workers"`
	QueueDepth int `json:"queue_depth" yaml:"queue_depth"`
}

// SimulationConfig contains replay settings.
type SimulationConfig struct {
	// WindowSize is the replay window width in timestamp units.
	WindowSize int64 `json:"window_size" yaml:"window_size"`

	// Pace is the number of windows emitted per second.
	Pace float64 `json:"pace" yaml:"pace"`
}

// ObservabilityConfig contains tracing settings.
type ObservabilityConfig struct {
	// OTLPEndpoint is the collector address (host:port). Empty disables
	// tracing.
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`

	ServiceName string `json:"service_name" yaml:"service_name"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: "5002",
		},
		Storage: StorageConfig{
			DBPath:            "anomview.db",
			ExecutionPath:     "executions",
			PersistExecutions: false,
		},
		Ingest: IngestConfig{
			Workers:    4,
			QueueDepth: 256,
		},
		Simulation: SimulationConfig{
			WindowSize: 1_000_000,
			Pace:       1,
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: "",
			ServiceName:  "anomview-viewer",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadConfigFile(configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port must not be empty")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage db_path must not be empty")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest workers must be at least 1")
	}
	if c.Ingest.QueueDepth < 1 {
		return fmt.Errorf("ingest queue_depth must be at least 1")
	}
	if c.Simulation.WindowSize <= 0 {
		return fmt.Errorf("simulation window_size must be positive")
	}
	if c.Simulation.Pace <= 0 {
		return fmt.Errorf("simulation pace must be positive")
	}
	return nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(cfg *Config) {
	if v := os.Getenv("ANOMVIEW_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("ANOMVIEW_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("ANOMVIEW_EXECUTION_PATH"); v != "" {
		cfg.Storage.ExecutionPath = v
	}
	if v := os.Getenv("ANOMVIEW_PERSIST_EXECUTIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.PersistExecutions = b
		}
	}
	if v := os.Getenv("ANOMVIEW_INGEST_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = i
		}
	}
	if v := os.Getenv("ANOMVIEW_INGEST_QUEUE_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.QueueDepth = i
		}
	}
	if v := os.Getenv("ANOMVIEW_SIM_WINDOW_SIZE"); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Simulation.WindowSize = i
		}
	}
	if v := os.Getenv("ANOMVIEW_SIM_PACE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Simulation.Pace = f
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("ANOMVIEW_SERVICE_NAME"); v != "" {
		cfg.Observability.ServiceName = v
	}
}
