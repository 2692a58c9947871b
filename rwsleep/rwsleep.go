// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package rwsleep implements an async reader/writer sleep lock that
// alternates whole batches of shared and exclusive waiters (spec.md section
// 4.1): on an exclusive release every queued reader is woken at once; on a
// shared release that drains the last reader, exactly one writer is woken.
// This bounds wake amplification to one batch per release while starving
// neither side.
package rwsleep

import (
	"container/list"
	"context"
	"sync"
)

// slot mirrors the RwSleepMutexSupport state machine from the source this
// was ported from: Any (unlocked), Shared (held, no writer waiting, new
// readers may join freely), SharedPending (held, a writer is already
// queued, so new readers must wait for the next batch), Locked (held
// exclusively).
type slot int

const (
	slotAny slot = iota
	slotShared
	slotSharedPending
	slotLocked
)

type sharedWaiter struct {
	ch chan struct{}
}

type uniqueWaiter struct {
	ch chan struct{}
}

// Mutex guards a value of type T behind an async reader/writer sleep lock.
// The zero value is not usable; construct with New.
type Mutex[T any] struct {
	mu sync.Mutex // spin-locked control block; never held across a channel wait

	slot        slot
	sharedCount int
	sharedWait  list.List // of *sharedWaiter, waiting for the next shared batch
	uniqueWait  list.List // of *uniqueWaiter, FIFO

	data T
}

// New constructs an unlocked Mutex wrapping v.
func New[T any](v T) *Mutex[T] {
	return &Mutex[T]{data: v}
}

// ReadGuard is held while a shared lock is in effect.
type ReadGuard[T any] struct {
	m    *Mutex[T]
	done bool
}

// Value returns a pointer to the guarded value. Callers must not mutate it
// through a ReadGuard.
func (g *ReadGuard[T]) Value() *T {
	return &g.m.data
}

// RUnlock releases the shared lock. It is an error to call it twice.
func (g *ReadGuard[T]) RUnlock() {
	if g.done {
		panic("rwsleep: RUnlock of already-unlocked ReadGuard")
	}
	g.done = true
	g.m.runlock()
}

// WriteGuard is held while an exclusive lock is in effect.
type WriteGuard[T any] struct {
	m    *Mutex[T]
	done bool
}

// Value returns a pointer to the guarded value.
func (g *WriteGuard[T]) Value() *T {
	return &g.m.data
}

// Unlock releases the exclusive lock. It is an error to call it twice.
func (g *WriteGuard[T]) Unlock() {
	if g.done {
		panic("rwsleep: Unlock of already-unlocked WriteGuard")
	}
	g.done = true
	g.m.unlock()
}

// RLock acquires the lock in shared mode, suspending until it is available
// or ctx is done. A waiter canceled before being woken unlinks its node from
// the wait queue before returning, so a dropped future never leaves a
// hazard behind (spec.md section 4.1 cancellation requirement).
func (m *Mutex[T]) RLock(ctx context.Context) (*ReadGuard[T], error) {
	m.mu.Lock()
	switch m.slot {
	case slotAny:
		m.slot = slotShared
		m.sharedCount = 1
		m.mu.Unlock()
		return &ReadGuard[T]{m: m}, nil

	case slotShared:
		m.sharedCount++
		m.mu.Unlock()
		return &ReadGuard[T]{m: m}, nil

	default: // slotSharedPending, slotLocked: must wait for the next batch.
		w := &sharedWaiter{ch: make(chan struct{})}
		elem := m.sharedWait.PushBack(w)
		m.mu.Unlock()

		select {
		case <-w.ch:
			return &ReadGuard[T]{m: m}, nil
		case <-ctx.Done():
			m.mu.Lock()
			select {
			case <-w.ch:
				// Woken concurrently with the cancellation; we already own
				// the lock and must not report an error.
				m.mu.Unlock()
				return &ReadGuard[T]{m: m}, nil
			default:
				m.sharedWait.Remove(elem)
				m.mu.Unlock()
				return nil, ctx.Err()
			}
		}
	}
}

// Lock acquires the lock in exclusive mode, suspending until it is
// available or ctx is done.
func (m *Mutex[T]) Lock(ctx context.Context) (*WriteGuard[T], error) {
	m.mu.Lock()
	switch m.slot {
	case slotAny:
		m.slot = slotLocked
		m.mu.Unlock()
		return &WriteGuard[T]{m: m}, nil

	case slotShared:
		m.slot = slotSharedPending

		w := &uniqueWaiter{ch: make(chan struct{})}
		m.uniqueWait.PushBack(w)
		m.mu.Unlock()
		return m.waitUnique(ctx, w, nil)

	default: // slotSharedPending, slotLocked
		w := &uniqueWaiter{ch: make(chan struct{})}
		elem := m.uniqueWait.PushBack(w)
		m.mu.Unlock()
		return m.waitUnique(ctx, w, elem)
	}
}

func (m *Mutex[T]) waitUnique(ctx context.Context, w *uniqueWaiter, elem *list.Element) (*WriteGuard[T], error) {
	select {
	case <-w.ch:
		return &WriteGuard[T]{m: m}, nil
	case <-ctx.Done():
		m.mu.Lock()
		select {
		case <-w.ch:
			m.mu.Unlock()
			return &WriteGuard[T]{m: m}, nil
		default:
			if elem != nil {
				m.uniqueWait.Remove(elem)
			} else {
				removeUniqueWaiter(&m.uniqueWait, w)
			}
			m.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func removeUniqueWaiter(l *list.List, w *uniqueWaiter) {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*uniqueWaiter) == w {
			l.Remove(e)
			return
		}
	}
}

// unlock implements the "after unique lock" transition: wake every queued
// reader as one batch, or failing that the single next writer.
func (m *Mutex[T]) unlock() {
	m.mu.Lock()
	if m.sharedWait.Len() > 0 {
		n := m.sharedWait.Len()
		if m.uniqueWait.Len() > 0 {
			m.slot = slotSharedPending
		} else {
			m.slot = slotShared
		}
		m.sharedCount = n

		woken := make([]chan struct{}, 0, n)
		for e := m.sharedWait.Front(); e != nil; e = e.Next() {
			woken = append(woken, e.Value.(*sharedWaiter).ch)
		}
		m.sharedWait.Init()
		m.mu.Unlock()

		for _, ch := range woken {
			close(ch)
		}
		return
	}

	if e := m.uniqueWait.Front(); e != nil {
		w := e.Value.(*uniqueWaiter)
		m.uniqueWait.Remove(e)
		m.slot = slotLocked
		m.mu.Unlock()
		close(w.ch)
		return
	}

	m.slot = slotAny
	m.mu.Unlock()
}

// runlock implements the "after shared lock" transition: only the last
// reader out of a batch does anything, and it wakes exactly one writer if
// one is pending.
func (m *Mutex[T]) runlock() {
	m.mu.Lock()
	m.sharedCount--
	if m.sharedCount > 0 {
		m.mu.Unlock()
		return
	}

	switch m.slot {
	case slotShared:
		m.slot = slotAny
		m.mu.Unlock()
	case slotSharedPending:
		e := m.uniqueWait.Front()
		w := e.Value.(*uniqueWaiter)
		m.uniqueWait.Remove(e)
		m.slot = slotLocked
		m.mu.Unlock()
		close(w.ch)
	default:
		m.mu.Unlock()
		panic("rwsleep: runlock in unexpected state")
	}
}
