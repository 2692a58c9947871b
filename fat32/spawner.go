// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32

import "context"

// Spawner starts a background task under a name, used for the write-back
// tasks Mount starts (the block cache's, and the FAT list's, which writes
// every FAT copy and the FsInfo sector) and for freeing a detached file's
// cluster chain (spec.md section 4.8 / section 4.4).
type Spawner interface {
	Spawn(ctx context.Context, name string, fn func(context.Context))
}

// GoSpawner spawns every task on its own goroutine with a bare go
// statement. Mount has no default Spawner; the caller always passes one.
type GoSpawner struct{}

// Spawn implements Spawner.
func (GoSpawner) Spawn(ctx context.Context, name string, fn func(context.Context)) {
	go fn(ctx)
}

// PoolSpawner runs every spawned task through a bounded pool of worker
// goroutines, queuing tasks past the pool's width instead of growing the
// goroutine count without limit (grounded on the counting-semaphore pattern
// bcache/fatlist use for write-back concurrency). Tasks queued past
// capacity wait for a free worker; ctx cancellation while queued drops the
// task without running it.
type PoolSpawner struct {
	tasks chan poolTask
	done  chan struct{}
}

type poolTask struct {
	ctx context.Context
	fn  func(context.Context)
}

// NewPoolSpawner starts width worker goroutines draining a shared task
// queue. width must be positive.
func NewPoolSpawner(width int) *PoolSpawner {
	if width <= 0 {
		width = 1
	}
	p := &PoolSpawner{
		tasks: make(chan poolTask, width),
		done:  make(chan struct{}),
	}
	for i := 0; i < width; i++ {
		go p.worker()
	}
	return p
}

func (p *PoolSpawner) worker() {
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			if t.ctx.Err() != nil {
				continue
			}
			t.fn(t.ctx)
		case <-p.done:
			return
		}
	}
}

// Spawn implements Spawner, enqueueing fn for a pool worker to run. If ctx
// is canceled before a worker picks it up, fn never runs.
func (p *PoolSpawner) Spawn(ctx context.Context, name string, fn func(context.Context)) {
	select {
	case p.tasks <- poolTask{ctx: ctx, fn: fn}:
	case <-ctx.Done():
	case <-p.done:
	}
}

// Close stops accepting new tasks and tells idle workers to exit; workers
// already running a task finish it first.
func (p *PoolSpawner) Close() {
	close(p.done)
}
