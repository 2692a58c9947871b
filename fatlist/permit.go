// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fatlist

import "context"

// Permit is one already-acquired dirty-semaphore token. Acquiring it ahead
// of taking any unit's sleep lock is what avoids a deadlock between two
// callers each holding one unit's lock while waiting on the other's permit
// (spec.md section 4.3's alloc_cluster_after / free_cluster_at both
// require the caller to pre-acquire capacity for every unit the operation
// may dirty).
type Permit struct {
	spent bool
}

// PermitSet bundles several pre-acquired permits so a multi-unit mutation
// can hand them out one at a time as it touches each unit, without ever
// blocking on the semaphore while holding a unit's lock.
type PermitSet struct {
	tokens []Permit
}

// TakePermit acquires a single permit for an operation that dirties at
// most one unit (AllocCluster, FreeCluster).
func (m *Manager) TakePermit(ctx context.Context) (Permit, error) {
	if err := m.dirtySem.Take(ctx); err != nil {
		return Permit{}, err
	}
	return Permit{}, nil
}

// NewPermitSet acquires n permits up front.
func (m *Manager) NewPermitSet(ctx context.Context, n int) (*PermitSet, error) {
	ps := &PermitSet{tokens: make([]Permit, 0, n)}
	for i := 0; i < n; i++ {
		if err := m.dirtySem.Take(ctx); err != nil {
			ps.Abort(m)
			return nil, err
		}
		ps.tokens = append(ps.tokens, Permit{})
	}
	return ps, nil
}

// Len reports how many unspent permits remain in the set.
func (ps *PermitSet) Len() int {
	return len(ps.tokens)
}

// take pops one permit for immediate use.
func (ps *PermitSet) take() (Permit, bool) {
	n := len(ps.tokens)
	if n == 0 {
		return Permit{}, false
	}
	p := ps.tokens[n-1]
	ps.tokens = ps.tokens[:n-1]
	return p, true
}

// Abort releases every unspent permit back to the semaphore, used when an
// operation ends early (error, or after legally truncating a chain free).
func (ps *PermitSet) Abort(m *Manager) {
	for range ps.tokens {
		m.dirtySem.Release()
	}
	ps.tokens = nil
}
