// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package bcache

import "context"

// semaphore is a simple counting semaphore used for the dirty-block permit
// pool (spec.md section 4.2) and for bounding write-back concurrency. Its
// capacity is fixed at construction.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(capacity int) *semaphore {
	return &semaphore{slots: make(chan struct{}, capacity)}
}

// Take blocks until a permit is available or ctx is done.
func (s *semaphore) Take(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	default:
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryTake acquires a permit without blocking, reporting whether it
// succeeded.
func (s *semaphore) TryTake() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a permit to the pool.
func (s *semaphore) Release() {
	<-s.slots
}

// Len reports how many permits are currently taken.
func (s *semaphore) Len() int {
	return len(s.slots)
}
