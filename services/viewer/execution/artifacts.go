// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package execution answers queries over recorded execution spans, served
// from the relational store or from per-(pid,rid,step) file artifacts when
// the store has nothing.
package execution

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// ArtifactStore reads and writes the per-step execution dumps under a fixed
// root: <root>/<pid>/<rid>/<step>.json.
type ArtifactStore struct {
	root string
}

// NewArtifactStore returns a store rooted at root. An empty root disables
// the file tier entirely.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

// Enabled reports whether a root is configured.
func (a *ArtifactStore) Enabled() bool {
	return a.root != ""
}

// Root returns the configured artifact root.
func (a *ArtifactStore) Root() string {
	return a.root
}

// Path returns the deterministic artifact location for one (pid, rid, step).
func (a *ArtifactStore) Path(pid, rid int, step int64) string {
	return filepath.Join(a.root,
		strconv.Itoa(pid),
		strconv.Itoa(rid),
		fmt.Sprintf("%d.json", step))
}

// Write dumps one step batch, creating the pid/rid directories as needed.
func (a *ArtifactStore) Write(pid, rid int, step int64, artifact *datatypes.StepArtifact) error {
	if !a.Enabled() {
		return fmt.Errorf("artifact root not configured")
	}
	dir := filepath.Join(a.root, strconv.Itoa(pid), strconv.Itoa(rid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory %s: %w", dir, err)
	}

	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	path := a.Path(pid, rid, step)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// Read loads the artifact for one (pid, rid, step). A missing or malformed
// file is "no data", not an error: file-tier failures never propagate.
func (a *ArtifactStore) Read(pid, rid int, step int64) *datatypes.StepArtifact {
	if !a.Enabled() {
		return nil
	}
	path := a.Path(pid, rid, step)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read execution artifact", "path", path, "error", err)
		return nil
	}

	var artifact datatypes.StepArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		slog.Warn("Malformed execution artifact", "path", path, "error", err)
		return nil
	}
	return &artifact
}
