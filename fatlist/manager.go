// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package fatlist implements the FAT list manager (spec.md section 4.3): a
// cached, FsInfo-aware view of the on-disk cluster chain table, replicated
// across every FAT copy on write-back.
package fatlist

import (
	"context"
	"sync"

	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/ferr"
)

// Options configures a Manager's capacity and write-back concurrency.
type Options struct {
	// MaxUnitNum bounds how many ListUnits may be cached at once.
	MaxUnitNum int

	// DirtyCapacity bounds the dirty semaphore; must be strictly less than
	// MaxUnitNum so eviction always has somewhere to make progress.
	DirtyCapacity int

	// WriteBackConcurrency bounds concurrent device writes per drain, both
	// within one FAT copy and across copies.
	WriteBackConcurrency int
}

// Manager is the FAT list manager described by spec.md section 4.3. One
// Manager owns every copy of the table; RunWriteBack fans the same dirty
// unit out to all of them.
type Manager struct {
	device            blockdev.Device
	sectorBytes       int
	u32PerSectorLog2  uint
	maxCID            cid.CID
	loadStart         cid.SID   // sector to read list units from (one designated copy)
	storeStart        []cid.SID // sector to write each replica to, one per FAT copy
	infoSector        uint32

	aidAlloc cid.AIDAllocator
	dirtySem *semaphore
	wbSem    *semaphore

	mu          sync.Mutex // control block; never held across a device I/O or channel wait
	search      map[UnitID]*ListUnit
	clean       cleanIndex
	dirty       map[UnitID]*ListUnit
	syncPending map[UnitID]struct{}
	closed      bool
	maxUnitNum  int
	notify      chan struct{}

	fsInfoBuf     []byte
	fsInfoStatus  fsInfoState
	clusterFree   uint32
	clusterSearch cid.CID
}

func log2(n int) uint {
	var b uint
	for n > 1 {
		n >>= 1
		b++
	}
	return b
}

// New constructs a Manager and synchronously loads the FsInfo sector.
// sectorBytes, loadStart, storeStart, infoSector and maxCID are all derived
// from the BPB by fat32.Mount.
func New(ctx context.Context, dev blockdev.Device, sectorBytes int, loadStart cid.SID, storeStart []cid.SID, infoSector uint32, maxCID cid.CID, opts Options) (*Manager, error) {
	if opts.WriteBackConcurrency <= 0 {
		opts.WriteBackConcurrency = 1
	}
	m := &Manager{
		device:           dev,
		sectorBytes:      sectorBytes,
		u32PerSectorLog2: log2(entriesPerUnit(sectorBytes)),
		maxCID:           maxCID,
		loadStart:        loadStart,
		storeStart:       storeStart,
		infoSector:       infoSector,
		dirtySem:         newSemaphore(opts.DirtyCapacity),
		wbSem:            newSemaphore(opts.WriteBackConcurrency),
		search:           make(map[UnitID]*ListUnit),
		dirty:            make(map[UnitID]*ListUnit),
		syncPending:      make(map[UnitID]struct{}),
		maxUnitNum:       opts.MaxUnitNum,
		notify:           make(chan struct{}, 1),
	}

	buf := make([]byte, sectorBytes)
	if err := dev.ReadBlock(ctx, infoSector, buf); err != nil {
		return nil, ferr.Wrap("fatlist.New", ferr.IoError, err)
	}
	fi := parseFsInfo(buf)
	m.fsInfoBuf = buf
	m.clusterFree = fi.FreeCount
	m.clusterSearch = cid.CID(fi.NextFree)
	return m, nil
}

// sectorSplit divides a raw FAT-entry sector index into (unit index, entry
// offset within that unit), mirroring ListManager::sector_split.
func (m *Manager) sectorSplit(sid uint32) (UnitID, int) {
	bit := m.u32PerSectorLog2
	return UnitID(sid >> bit), int(sid & ((1 << bit) - 1))
}

func (m *Manager) unitOfCID(c cid.CID) (UnitID, int) {
	return m.sectorSplit(uint32(c))
}

// getUnit returns the cached ListUnit for uid, loading and admitting it
// (evicting an LRU clean victim if necessary) if absent. It does not
// update the unit's AID; callers that dereference a chain link do that
// themselves, matching get_unit in the source this was ported from.
func (m *Manager) getUnit(ctx context.Context, uid UnitID) (*ListUnit, error) {
	m.mu.Lock()
	if u, ok := m.search[uid]; ok {
		m.mu.Unlock()
		return m.ensureLoaded(ctx, u)
	}
	u, err := m.admit(uid)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	return m.ensureLoaded(ctx, u)
}

// admit inserts a fresh, not-yet-loaded ListUnit for uid into search+clean,
// evicting an LRU victim first if at capacity. Caller holds m.mu.
func (m *Manager) admit(uid UnitID) (*ListUnit, error) {
	if len(m.search) >= m.maxUnitNum {
		if err := m.evictOne(); err != nil {
			return nil, err
		}
	}
	u := newListUnit(uid, m.sectorBytes)
	aid := m.aidAlloc.Alloc()
	u.setAID(aid)
	m.search[uid] = u
	m.clean.insert(aid, uid)
	return u, nil
}

// evictOne scans clean in AID order the way bcache.Cache.evictOne does,
// reinserting entries whose AID is stale and stopping once the scan
// has circled back past a marker taken at its start. Caller holds m.mu.
func (m *Manager) evictOne() error {
	if m.clean.empty() {
		return ferr.New("fatlist.evictOne", ferr.NoBuffers)
	}
	searchMax := m.aidAlloc.Alloc()
	for {
		entry, ok := m.clean.popMin()
		if !ok {
			return ferr.New("fatlist.evictOne", ferr.NoBuffers)
		}
		if entry.aid > searchMax {
			return ferr.New("fatlist.evictOne", ferr.NoBuffers)
		}
		u, present := m.search[entry.uid]
		if !present {
			continue
		}
		if u.AID() != entry.aid {
			m.clean.insert(u.AID(), entry.uid)
			continue
		}
		delete(m.search, entry.uid)
		return nil
	}
}

// ensureLoaded reads uid's sector from the device the first time it is
// touched. Later calls through getUnit for the same, already-loaded unit
// take the fast path without another device round trip.
func (m *Manager) ensureLoaded(ctx context.Context, u *ListUnit) (*ListUnit, error) {
	g, err := u.inner.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	st := g.Value()
	if st.loaded {
		return u, nil
	}
	sid := uint32(m.loadStart) + uint32(u.ID)
	if err := m.device.ReadBlock(ctx, sid, st.buffer.Bytes()); err != nil {
		return nil, ferr.Wrap("fatlist.ensureLoaded", ferr.IoError, err)
	}
	st.loaded = true
	return u, nil
}

// GetNext returns the cluster chained after c. It is the building block
// every higher layer (Travel, inode readers) uses one step at a time.
func (m *Manager) GetNext(ctx context.Context, c cid.CID) (cid.CID, error) {
	uid, off := m.unitOfCID(c)
	u, err := m.getUnit(ctx, uid)
	if err != nil {
		return 0, err
	}
	g, err := u.inner.RLock(ctx)
	if err != nil {
		return 0, err
	}
	defer g.RUnlock()
	u.setAID(m.aidAlloc.Alloc())
	return entryAt(g.Value().buffer.Bytes(), off), nil
}

// Flow is the result a Travel callback returns to continue or stop early.
type Flow int

const (
	// Continue keeps folding along the chain.
	Continue Flow = iota
	// Break stops folding and returns the accumulator as final.
	Break
)

// Travel walks the chain starting at cid, one link at a time, folding op
// over every cluster id it visits after start (the first call receives
// startOff+1 as its offset argument, matching a caller that already knows
// start sits at offset startOff within the file). It caches the single
// ListUnit most recently touched to avoid a cache lookup for consecutive
// links inside the same unit, same as FatList::travel.
//
// Travel is a package-level function, not a method, because Go forbids
// type parameters on methods.
func Travel[A any](ctx context.Context, m *Manager, start cid.CID, startOff int, init A, op func(acc A, next cid.CID, offset int) (A, Flow, error)) (A, error) {
	acc := init
	cur := start
	i := startOff + 1

	var cachedUID UnitID
	var cachedUnit *ListUnit
	haveCached := false

	for cur.IsNext() {
		uid, uoff := m.unitOfCID(cur)
		var u *ListUnit
		if haveCached && cachedUID == uid {
			u = cachedUnit
		} else {
			var err error
			u, err = m.getUnit(ctx, uid)
			if err != nil {
				return acc, err
			}
		}

		g, err := u.inner.RLock(ctx)
		if err != nil {
			return acc, err
		}
		u.setAID(m.aidAlloc.Alloc())
		next := entryAt(g.Value().buffer.Bytes(), uoff)
		g.RUnlock()

		var flow Flow
		acc, flow, err = op(acc, next, i)
		if err != nil {
			return acc, err
		}

		cachedUID, cachedUnit, haveCached = uid, u, true
		cur = next
		i++
		if flow == Break {
			break
		}
	}
	return acc, nil
}

// unitIntoDirty moves uid from clean into dirty, consuming p's permit the
// first time (ownership transfers to the dirty map, released back by
// drainUnits once write-back completes), or releasing p immediately and
// simply flagging uid for another sync pass if it is already dirty. Caller
// holds m.mu.
func (m *Manager) unitIntoDirty(uid UnitID, p Permit) {
	if _, ok := m.dirty[uid]; ok {
		m.syncPending[uid] = struct{}{}
		m.dirtySem.Release()
		return
	}
	u := m.search[uid]
	m.clean.remove(uid)
	m.dirty[uid] = u
	m.syncPending[uid] = struct{}{}
}

func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) setEntry(ctx context.Context, uid UnitID, off int, v cid.CID, p Permit) error {
	u, err := m.getUnit(ctx, uid)
	if err != nil {
		m.dirtySem.Release()
		return err
	}
	g, err := u.inner.Lock(ctx)
	if err != nil {
		m.dirtySem.Release()
		return err
	}
	st := g.Value()
	st.buffer.EnsureUnique()
	setEntryAt(st.buffer.Bytes(), off, v)
	u.setAID(m.aidAlloc.Alloc())
	g.Unlock()

	m.mu.Lock()
	m.unitIntoDirty(uid, p)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Manager) fsInfoDirty() {
	m.fsInfoStatus = m.fsInfoStatus.intoDirty()
}

// AllocCluster finds the first free cluster starting from the cached
// search hint, scanning the table at most twice around, marks it Last, and
// links it to nothing (the caller is responsible for linking it into a
// chain, e.g. via AllocClusterAfter or by updating a directory entry's
// start cluster). p must be a single pre-acquired permit.
func (m *Manager) AllocCluster(ctx context.Context, p Permit) (cid.CID, error) {
	m.mu.Lock()
	if m.clusterFree == 0 {
		m.mu.Unlock()
		m.dirtySem.Release()
		return 0, ferr.New("fatlist.AllocCluster", ferr.NoSpace)
	}
	start := m.clusterSearch
	m.mu.Unlock()

	uid, _ := m.unitOfCID(start)
	entries := entriesPerUnit(m.sectorBytes)
	wraps := 0

	for {
		u, err := m.getUnit(ctx, uid)
		if err != nil {
			m.dirtySem.Release()
			return 0, err
		}
		g, err := u.inner.RLock(ctx)
		if err != nil {
			m.dirtySem.Release()
			return 0, err
		}
		buf := g.Value().buffer.Bytes()

		found := -1
		for off := 0; off < entries; off++ {
			absolute := uint32(uid)<<m.u32PerSectorLog2 + uint32(off)
			if absolute >= uint32(m.maxCID) {
				break
			}
			if entryAt(buf, off).IsFree() {
				found = off
				break
			}
		}
		g.RUnlock()

		if found >= 0 {
			g, err := u.inner.Lock(ctx)
			if err != nil {
				m.dirtySem.Release()
				return 0, err
			}
			st := g.Value()
			st.buffer.EnsureUnique()
			setEntryAt(st.buffer.Bytes(), found, cid.Last)
			u.setAID(m.aidAlloc.Alloc())
			g.Unlock()

			m.mu.Lock()
			m.clusterFree--
			m.fsInfoDirty()
			m.unitIntoDirty(uid, p)
			m.mu.Unlock()
			m.signal()

			return cid.CID(uint32(uid)<<m.u32PerSectorLog2 + uint32(found)), nil
		}

		uid = UnitID(uint32(uid) + 1)
		if uint32(uid)<<m.u32PerSectorLog2 >= uint32(m.maxCID) {
			uid = 0
			wraps++
			if wraps == 2 {
				m.dirtySem.Release()
				return 0, ferr.New("fatlist.AllocCluster", ferr.NoSpace)
			}
		}
		m.mu.Lock()
		m.clusterSearch = cid.CID(uint32(uid) << m.u32PerSectorLog2)
		m.fsInfoDirty()
		m.mu.Unlock()
	}
}

// AllocClusterAfter allocates a fresh cluster and links it after c, which
// must be the last link of its chain (cid.IsLast). ps must hold at least
// two permits: one for the unit holding c's link, one for AllocCluster's
// own unit (the two may coincide, but the capacity must be reserved before
// either unit's lock is taken to avoid a cross-caller deadlock).
func (m *Manager) AllocClusterAfter(ctx context.Context, c cid.CID, ps *PermitSet) (cid.CID, error) {
	if ps.Len() < 2 {
		return 0, ferr.New("fatlist.AllocClusterAfter", ferr.InvalidArgument)
	}
	uid, off := m.unitOfCID(c)
	u, err := m.getUnit(ctx, uid)
	if err != nil {
		return 0, err
	}
	u.setAID(m.aidAlloc.Alloc())

	allocPermit, _ := ps.take()
	linkPermit, _ := ps.take()
	next, err := m.AllocCluster(ctx, allocPermit)
	if err != nil {
		m.dirtySem.Release() // linkPermit was never spent
		return 0, err
	}

	if err := m.setEntry(ctx, uid, off, next, linkPermit); err != nil {
		return 0, err
	}
	return next, nil
}

// FreeCluster marks c itself free. p is a single pre-acquired permit.
func (m *Manager) FreeCluster(ctx context.Context, c cid.CID, p Permit) error {
	uid, off := m.unitOfCID(c)
	return m.setEntry(ctx, uid, off, cid.Free, p)
}

// FreeClusterAt frees every cluster in the chain strictly after c until
// the chain ends (c itself becomes the new tail, written as cid.Last) or
// ps runs out of permits. If it runs out early, truncated is true: c's
// entry now points at the first cluster not yet freed, leaving the chain
// in a legal, if shorter, state, and the caller must acquire more permits
// and call FreeClusterAt on c again (spec.md section 4.3's
// partial-failure contract). ps must hold at least two permits.
func (m *Manager) FreeClusterAt(ctx context.Context, c cid.CID, ps *PermitSet) (freedCount int, truncated bool, err error) {
	if ps.Len() < 2 {
		return 0, false, ferr.New("fatlist.FreeClusterAt", ferr.InvalidArgument)
	}
	selfPermit, _ := ps.take()

	uid, off := m.unitOfCID(c)
	u, err := m.getUnit(ctx, uid)
	if err != nil {
		m.dirtySem.Release()
		return 0, false, err
	}
	g, err := u.inner.RLock(ctx)
	if err != nil {
		m.dirtySem.Release()
		return 0, false, err
	}
	next := entryAt(g.Value().buffer.Bytes(), off)
	u.setAID(m.aidAlloc.Alloc())
	g.RUnlock()

	freed, tail, truncated, chainErr := m.freeChain(ctx, next, ps)
	newEntry := cid.Last
	if truncated || chainErr != nil {
		newEntry = tail
	}

	if err := m.setEntry(ctx, uid, off, newEntry, selfPermit); err != nil {
		return freed, truncated, err
	}
	return freed, truncated, chainErr
}

// freeChain frees clusters starting at cur until the chain ends or ps is
// exhausted, returning how many were freed, the still-linked cid to leave
// as the new tail if truncated early, and whether it stopped early.
func (m *Manager) freeChain(ctx context.Context, cur cid.CID, ps *PermitSet) (freed int, tail cid.CID, truncated bool, err error) {
	for cur.IsNext() {
		if ps.Len() == 0 {
			return freed, cur, true, nil
		}
		p, _ := ps.take()

		uid, off := m.unitOfCID(cur)
		u, gerr := m.getUnit(ctx, uid)
		if gerr != nil {
			m.dirtySem.Release()
			return freed, cur, false, gerr
		}
		g, gerr := u.inner.RLock(ctx)
		if gerr != nil {
			m.dirtySem.Release()
			return freed, cur, false, gerr
		}
		next := entryAt(g.Value().buffer.Bytes(), off)
		g.RUnlock()

		if serr := m.setEntry(ctx, uid, off, cid.Free, p); serr != nil {
			return freed, cur, false, serr
		}
		freed++
		cur = next
	}
	return freed, cid.Last, false, nil
}

// RunWriteBack drains sync_pending to every FAT copy until ctx is done or
// the manager is closed. It fans each dirty unit out to all copies
// concurrently, then writes FsInfo back once the unit drain completes
// (spec.md section 4.3's replication requirement and section 4.8's single
// write-back task per list).
func (m *Manager) RunWriteBack(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.notify:
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		pending := make([]UnitID, 0, len(m.syncPending))
		for uid := range m.syncPending {
			pending = append(pending, uid)
		}
		m.syncPending = make(map[UnitID]struct{})
		m.mu.Unlock()

		if len(pending) > 0 {
			m.drainUnits(ctx, pending)
		}

		m.mu.Lock()
		needSync := m.fsInfoStatus.needsSync()
		if needSync {
			m.fsInfoStatus = m.fsInfoStatus.intoDevice()
			storeFsInfo(m.fsInfoBuf, m.clusterFree, uint32(m.clusterSearch))
		}
		m.mu.Unlock()

		if needSync {
			m.writeFsInfo(ctx)
		}
	}
}

func (m *Manager) drainUnits(ctx context.Context, pending []UnitID) {
	var wg sync.WaitGroup
	var failedMu sync.Mutex
	failed := make(map[UnitID]bool)
	for _, uid := range pending {
		for _, store := range m.storeStart {
			uid, store := uid, store
			m.wbSem.slots <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-m.wbSem.slots }()
				if !m.writeUnitCopy(ctx, uid, store) {
					failedMu.Lock()
					failed[uid] = true
					failedMu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range pending {
		if failed[uid] {
			continue
		}
		if _, stillRedirtied := m.syncPending[uid]; stillRedirtied {
			continue
		}
		u, ok := m.dirty[uid]
		if !ok {
			continue
		}
		delete(m.dirty, uid)
		aid := m.aidAlloc.Alloc()
		u.setAID(aid)
		m.clean.insert(aid, uid)
		m.dirtySem.Release()
	}
}

func (m *Manager) writeUnitCopy(ctx context.Context, uid UnitID, store cid.SID) bool {
	m.mu.Lock()
	u, ok := m.dirty[uid]
	m.mu.Unlock()
	if !ok {
		return true
	}

	g, err := u.inner.Lock(ctx)
	if err != nil {
		return false
	}
	snap := g.Value().buffer.Snapshot()
	g.Unlock()

	sid := uint32(store) + uint32(uid)
	if err := m.device.WriteBlock(ctx, sid, snap.Bytes()); err != nil {
		// drainUnits leaves the unit in dirty; every copy is written again
		// once a later update re-queues it into syncPending, same as bcache.
		return false
	}

	g2, err := u.inner.Lock(ctx)
	if err == nil {
		g2.Value().buffer.ClearSnapshot()
		g2.Unlock()
	}
	return true
}

func (m *Manager) writeFsInfo(ctx context.Context) {
	if err := m.device.WriteBlock(ctx, m.infoSector, m.fsInfoBuf); err != nil {
		m.mu.Lock()
		m.fsInfoStatus = fsInfoDirty
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	m.fsInfoStatus = m.fsInfoStatus.leaveDevice()
	m.mu.Unlock()
}

// Close marks the manager as closing: RunWriteBack observes this and
// terminates instead of draining further.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

// Stats reports the number of clean and dirty units and the cached
// free-cluster count, used by tests asserting invariants from spec.md
// section 8.
func (m *Manager) Stats() (clean, dirty int, free uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clean.len(), len(m.dirty), m.clusterFree
}
