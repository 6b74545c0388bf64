// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package execution

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/anomview/AnomView/services/viewer/datatypes"
)

// StepIndex maintains an in-memory catalog of the step artifacts on disk so
// the API can list available (pid, rid, step) triples without walking the
// tree per request. The index is seeded with a full scan and then kept
// current from filesystem events.
type StepIndex struct {
	root string

	mu    sync.RWMutex
	steps map[datatypes.StepRef]struct{}
}

// NewStepIndex scans root and returns a populated index. A missing root is
// not an error; it just yields an empty catalog until artifacts appear.
func NewStepIndex(root string) (*StepIndex, error) {
	idx := &StepIndex{
		root:  root,
		steps: make(map[datatypes.StepRef]struct{}),
	}
	if err := idx.scan(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Steps returns the catalog sorted by (pid, rid, step).
func (idx *StepIndex) Steps() []datatypes.StepRef {
	idx.mu.RLock()
	refs := make([]datatypes.StepRef, 0, len(idx.steps))
	for ref := range idx.steps {
		refs = append(refs, ref)
	}
	idx.mu.RUnlock()

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].PID != refs[j].PID {
			return refs[i].PID < refs[j].PID
		}
		if refs[i].RID != refs[j].RID {
			return refs[i].RID < refs[j].RID
		}
		return refs[i].Step < refs[j].Step
	})
	return refs
}

// Watch keeps the index synchronized with the artifact tree until ctx is
// cancelled. Directory creation is watched recursively so artifacts written
// into fresh pid/rid directories are picked up.
func (idx *StepIndex) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := idx.watchTree(watcher); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			idx.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Artifact watcher error", "error", err)
		}
	}
}

func (idx *StepIndex) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				slog.Warn("Failed to watch new artifact directory", "path", event.Name, "error", err)
			}
			// Artifacts may have landed before the watch was in place.
			if err := idx.scan(); err != nil {
				slog.Warn("Artifact rescan failed", "error", err)
			}
			return
		}
		if ref, ok := idx.parse(event.Name); ok {
			idx.add(ref)
		}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if ref, ok := idx.parse(event.Name); ok {
			idx.remove(ref)
		}
	}
}

func (idx *StepIndex) add(ref datatypes.StepRef) {
	idx.mu.Lock()
	idx.steps[ref] = struct{}{}
	idx.mu.Unlock()
}

func (idx *StepIndex) remove(ref datatypes.StepRef) {
	idx.mu.Lock()
	delete(idx.steps, ref)
	idx.mu.Unlock()
}

// scan rebuilds the catalog from a full walk of the artifact tree.
func (idx *StepIndex) scan() error {
	if idx.root == "" {
		return nil
	}
	found := make(map[datatypes.StepRef]struct{})
	err := filepath.WalkDir(idx.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ref, ok := idx.parse(path); ok {
			found[ref] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	idx.mu.Lock()
	idx.steps = found
	idx.mu.Unlock()
	return nil
}

func (idx *StepIndex) watchTree(watcher *fsnotify.Watcher) error {
	if idx.root == "" {
		return nil
	}
	return filepath.WalkDir(idx.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// parse maps <root>/<pid>/<rid>/<step>.json to a step reference. Anything
// that does not match the layout is ignored.
func (idx *StepIndex) parse(path string) (datatypes.StepRef, bool) {
	rel, err := filepath.Rel(idx.root, path)
	if err != nil {
		return datatypes.StepRef{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".json") {
		return datatypes.StepRef{}, false
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return datatypes.StepRef{}, false
	}
	rid, err := strconv.Atoi(parts[1])
	if err != nil {
		return datatypes.StepRef{}, false
	}
	step, err := strconv.ParseInt(strings.TrimSuffix(parts[2], ".json"), 10, 64)
	if err != nil {
		return datatypes.StepRef{}, false
	}
	return datatypes.StepRef{PID: pid, RID: rid, Step: step}, true
}
