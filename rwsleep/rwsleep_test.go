// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package rwsleep

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSharedReadersRunConcurrently(t *testing.T) {
	m := New(0)
	ctx := context.Background()

	g1, err := m.RLock(ctx)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := m.RLock(ctx)
	if err != nil {
		t.Fatal(err)
	}

	g1.RUnlock()
	g2.RUnlock()
}

func TestWriterExcludesReaders(t *testing.T) {
	m := New(0)
	ctx := context.Background()

	wg, err := m.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		rg, err := m.RLock(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		rg.RUnlock()
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(20 * time.Millisecond):
	}

	wg.Unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired lock after writer released")
	}
}

func TestCancelWhileWaitingUnlinksNode(t *testing.T) {
	m := New(0)
	ctx := context.Background()

	wg, err := m.Lock(ctx)
	if err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.RLock(cctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("canceled RLock never returned")
	}

	wg.Unlock()

	// The canceled waiter must have unlinked itself: a fresh RLock should
	// succeed immediately rather than being shadowed behind a stale node.
	rg, err := m.RLock(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	rg.RUnlock()
}

func TestNoWriterStarvation(t *testing.T) {
	m := New(0)
	ctx := context.Background()
	const readers = 50

	var wg sync.WaitGroup
	var held sync.WaitGroup
	writerDone := make(chan struct{})

	wg.Add(readers)
	held.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			g, err := m.RLock(ctx)
			if err != nil {
				held.Done()
				t.Error(err)
				return
			}
			defer g.RUnlock()
			held.Done()
			time.Sleep(time.Millisecond)
			select {
			case <-writerDone:
				t.Error("writer completed before this shared batch drained")
			default:
			}
		}()
	}

	// Start the writer only once every reader holds the lock, so all of
	// them form the shared batch the writer has to wait out.
	held.Wait()
	go func() {
		g, err := m.Lock(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		close(writerDone)
		g.Unlock()
	}()

	wg.Wait()
	<-writerDone
}
