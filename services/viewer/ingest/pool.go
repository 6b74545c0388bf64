// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded worker pool for the asynchronous leg of ingestion. Jobs
// beyond the queue depth are dropped rather than blocking the HTTP handler;
// the ingest contract is fire-and-forget once the request is accepted.
type Pool struct {
	jobs   chan func(context.Context)
	group  *errgroup.Group
	cancel context.CancelFunc

	onDrop func()
}

// NewPool starts workers goroutines draining a queue of the given depth.
// onDrop, when set, observes every rejected job.
func NewPool(workers, depth int, onDrop func()) *Pool {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	p := &Pool{
		jobs:   make(chan func(context.Context), depth),
		group:  group,
		cancel: cancel,
		onDrop: onDrop,
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job, ok := <-p.jobs:
					if !ok {
						return nil
					}
					job(ctx)
				}
			}
		})
	}
	return p
}

// Submit enqueues a job without blocking. Returns false when the queue is
// full and the job was dropped.
func (p *Pool) Submit(job func(context.Context)) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		slog.Warn("Ingest queue full, dropping job")
		if p.onDrop != nil {
			p.onDrop()
		}
		return false
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to finish.
func (p *Pool) Shutdown() {
	close(p.jobs)
	_ = p.group.Wait()
	p.cancel()
}
