// Copyright 2021 - 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tablet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/delvector"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
)

type rowsetItem struct {
	rs *rowset.Rowset
}

func (i *rowsetItem) Less(than btree.Item) bool {
	a, b := i.rs.Version(), than.(*rowsetItem).rs.Version()
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

func versionKey(v rowset.Version) *rowsetItem {
	return &rowsetItem{rs: rowset.NewRowset(nil, &rowset.Meta{Version: v})}
}

// Tablet holds the visible rowsets of a tablet ordered by version, and the
// current del vector of every segment that had rows deleted.
type Tablet struct {
	store *kvstore.KVStore
	fs    fileservice.FileService
	idGen rowset.IDGenerator

	mu              sync.RWMutex
	meta            *Meta
	rowsets         *btree.BTree
	nextRowsetSegID uint32

	// writeMu orders deletes and rowset changes, readers only take mu or
	// the holder lock.
	writeMu sync.Mutex
	dvLock  sync.Mutex
	delvecs map[uint32]*delvector.Holder
}

func NewTablet(meta *Meta, store *kvstore.KVStore, fs fileservice.FileService, idGen rowset.IDGenerator) *Tablet {
	return &Tablet{
		store:   store,
		fs:      fs,
		idGen:   idGen,
		meta:    meta,
		rowsets: btree.New(16),
		delvecs: make(map[uint32]*delvector.Holder),
	}
}

func (t *Tablet) ID() int64 {
	return t.meta.TabletID
}

func (t *Tablet) UID() rowset.UniqueID {
	return t.meta.TabletUID
}

func (t *Tablet) SchemaHash() int64 {
	return t.meta.SchemaHash
}

func (t *Tablet) Schema() *Schema {
	return &t.meta.Schema
}

func (t *Tablet) Store() *kvstore.KVStore {
	return t.store
}

func (t *Tablet) FileService() fileservice.FileService {
	return t.fs
}

// Meta returns a copy of the tablet meta.
func (t *Tablet) Meta() *Meta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.Clone()
}

func (t *Tablet) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.State
}

// SetState persists a new state.
func (t *Tablet) SetState(ctx context.Context, state State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta := t.meta.Clone()
	if err := meta.SetState(state); err != nil {
		return err
	}
	if err := SaveTabletMeta(ctx, t.store, meta); err != nil {
		return err
	}
	t.meta = meta
	return nil
}

func (t *Tablet) String() string {
	return fmt.Sprintf("tablet %d.%d", t.meta.TabletID, t.meta.SchemaHash)
}

func (t *Tablet) checkRowset(ctx context.Context, meta *rowset.Meta) error {
	if meta.TabletID != t.meta.TabletID || meta.TabletUID != t.meta.TabletUID {
		return moerr.NewInvalidArg(ctx, "rowset tablet", fmt.Sprintf("%d/%s", meta.TabletID, meta.TabletUID))
	}
	return nil
}

// overlapLocked returns a visible rowset whose version range intersects
// v, skipping the ones in ignore.
func (t *Tablet) overlapLocked(v rowset.Version, ignore map[rowset.RowsetID]struct{}) *rowset.Rowset {
	var found *rowset.Rowset
	t.rowsets.Ascend(func(i btree.Item) bool {
		rs := i.(*rowsetItem).rs
		if rs.Version().Start > v.End {
			return false
		}
		if _, ok := ignore[rs.ID()]; ok {
			return true
		}
		if rs.Version().End >= v.Start {
			found = rs
			return false
		}
		return true
	})
	return found
}

// addLoadedRowset registers a rowset read back from the store.
func (t *Tablet) addLoadedRowset(meta *rowset.Meta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rowsets.ReplaceOrInsert(&rowsetItem{rs: rowset.NewRowset(t.fs, meta)})
	if end := meta.RowsetSegID + uint32(meta.NumSegments()); end > t.nextRowsetSegID {
		t.nextRowsetSegID = end
	}
}

// AddRowset persists meta as visible, then publishes it.
func (t *Tablet) AddRowset(ctx context.Context, meta *rowset.Meta) error {
	return t.ModifyRowsets(ctx, []*rowset.Meta{meta}, nil)
}

// ModifyRowsets replaces the rowsets in remove by the ones in add. The
// metadata change, including the del vectors of removed segments, is
// one write batch.
func (t *Tablet) ModifyRowsets(ctx context.Context, add []*rowset.Meta, remove []*rowset.Rowset) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.modifyRowsets(ctx, add, remove)
}

// ReplaceRowsets is ModifyRowsets for rowsets in add rewritten from the
// rows of remove. delVersions holds the del vector version of every
// segment of remove as it was read; if any moved since, the swap would
// lose those deletes and fails with InvalidState instead.
func (t *Tablet) ReplaceRowsets(
	ctx context.Context,
	add []*rowset.Meta,
	remove []*rowset.Rowset,
	delVersions map[uint32]int64,
) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for segID, v := range delVersions {
		dv, err := t.DelVector(ctx, segID, maxDelVersion)
		if err != nil {
			return err
		}
		if dv.Version() != v {
			return moerr.NewInvalidState(ctx, "segment %d of %s has del vector version %d, read at %d",
				segID, t, dv.Version(), v)
		}
	}
	return t.modifyRowsets(ctx, add, remove)
}

// ExclusiveWrite runs fn while deletes and rowset changes of t wait.
func (t *Tablet) ExclusiveWrite(fn func() error) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return fn()
}

func (t *Tablet) modifyRowsets(ctx context.Context, add []*rowset.Meta, remove []*rowset.Rowset) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta.State == StateShutdown {
		return moerr.NewInvalidState(ctx, "%s is shut down", t)
	}
	ignore := make(map[rowset.RowsetID]struct{}, len(remove))
	for _, rs := range remove {
		if it := t.rowsets.Get(&rowsetItem{rs: rs}); it == nil || it.(*rowsetItem).rs.ID() != rs.ID() {
			return moerr.NewRowsetNotFound(ctx, rs.ID().String())
		}
		ignore[rs.ID()] = struct{}{}
	}
	wb := kvstore.NewWriteBatch()
	added := make([]*rowset.Meta, len(add))
	nextSegID := t.nextRowsetSegID
	for i, meta := range add {
		if err := t.checkRowset(ctx, meta); err != nil {
			return err
		}
		if rs := t.overlapLocked(meta.Version, ignore); rs != nil {
			return moerr.NewDuplicate(ctx, "version %s of %s overlaps rowset %s", meta.Version, t, rs.ID())
		}
		for _, other := range added[:i] {
			if other.Version.End >= meta.Version.Start && other.Version.Start <= meta.Version.End {
				return moerr.NewDuplicate(ctx, "version %s is added twice to %s", meta.Version, t)
			}
		}
		m := meta.Clone()
		if err := m.SetVisible(); err != nil {
			return err
		}
		m.RowsetSegID = nextSegID
		nextSegID += uint32(m.NumSegments())
		rowset.AddSaveRowsetMeta(wb, t.meta.TabletUID, m)
		added[i] = m
	}
	for _, rs := range remove {
		if err := rowset.AddRemoveRowset(ctx, t.store, wb, rs.Meta()); err != nil {
			return err
		}
	}
	if err := t.store.WriteBatch(ctx, wb); err != nil {
		return err
	}

	for _, rs := range remove {
		t.rowsets.Delete(&rowsetItem{rs: rs})
		t.dropDelVectors(rs.Meta())
	}
	for i, m := range added {
		*add[i] = *m
		t.rowsets.ReplaceOrInsert(&rowsetItem{rs: rowset.NewRowset(t.fs, m)})
		if t.idGen != nil {
			t.idGen.ReleaseID(m.RowsetID)
		}
	}
	t.nextRowsetSegID = nextSegID
	logutil.Debug("modify rowsets",
		logutil.TabletField(t.meta.TabletID),
		zap.Int("added", len(add)),
		zap.Int("removed", len(remove)))
	return nil
}

// Rowsets returns the visible rowsets in version order.
func (t *Tablet) Rowsets() []*rowset.Rowset {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rowsets := make([]*rowset.Rowset, 0, t.rowsets.Len())
	t.rowsets.Ascend(func(i btree.Item) bool {
		rowsets = append(rowsets, i.(*rowsetItem).rs)
		return true
	})
	return rowsets
}

func (t *Tablet) NumRowsets() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rowsets.Len()
}

// MaxVersion is the version range of the rowset that ends last, zero for
// an empty tablet.
func (t *Tablet) MaxVersion() rowset.Version {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var max rowset.Version
	found := false
	t.rowsets.Ascend(func(i btree.Item) bool {
		v := i.(*rowsetItem).rs.Version()
		if !found || v.End > max.End {
			max = v
			found = true
		}
		return true
	})
	return max
}

func (t *Tablet) NumRows() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n int64
	t.rowsets.Ascend(func(i btree.Item) bool {
		n += i.(*rowsetItem).rs.NumRows()
		return true
	})
	return n
}

// AverageRowSize is the on disk bytes per row, 0 for an empty tablet.
func (t *Tablet) AverageRowSize() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var rows, size int64
	t.rowsets.Ascend(func(i btree.Item) bool {
		m := i.(*rowsetItem).rs.Meta()
		rows += m.NumRows
		size += m.TotalDiskSize
		return true
	})
	if rows == 0 {
		return 0
	}
	return size / rows
}

// CaptureConsistentRowsets returns rowsets that cover v without gap,
// preferring the widest rowset at every step.
func (t *Tablet) CaptureConsistentRowsets(ctx context.Context, v rowset.Version) ([]*rowset.Rowset, error) {
	if v.Start > v.End {
		return nil, moerr.NewInvalidArg(ctx, "version", v.String())
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var result []*rowset.Rowset
	next := v.Start
	for next <= v.End {
		var best *rowset.Rowset
		t.rowsets.AscendGreaterOrEqual(versionKey(rowset.Version{Start: next}), func(i btree.Item) bool {
			rs := i.(*rowsetItem).rs
			if rs.Version().Start != next {
				return false
			}
			if rs.Version().End <= v.End {
				best = rs
			}
			return true
		})
		if best == nil {
			return nil, moerr.NewNotFound(ctx, "version %d of %s, missing from %d", v.End, t, next)
		}
		result = append(result, best)
		next = best.Version().End + 1
	}
	return result, nil
}

func (t *Tablet) holder(ctx context.Context, segID uint32) (*delvector.Holder, error) {
	t.dvLock.Lock()
	h, ok := t.delvecs[segID]
	t.dvLock.Unlock()
	if ok {
		return h, nil
	}
	dv, err := delvector.GetLatestDelVector(ctx, t.store, t.meta.TabletID, segID, maxDelVersion)
	if err != nil {
		return nil, err
	}
	t.dvLock.Lock()
	defer t.dvLock.Unlock()
	if h, ok := t.delvecs[segID]; ok {
		return h, nil
	}
	h = delvector.NewHolder(dv)
	t.delvecs[segID] = h
	return h, nil
}

const maxDelVersion = int64(^uint64(0) >> 1)

// DelVector returns the deletions of a segment visible at version.
func (t *Tablet) DelVector(ctx context.Context, segID uint32, version int64) (*delvector.DelVector, error) {
	h, err := t.holder(ctx, segID)
	if err != nil {
		return nil, err
	}
	if dv := h.Get(); dv.Version() <= version {
		return dv, nil
	}
	return delvector.GetLatestDelVector(ctx, t.store, t.meta.TabletID, segID, version)
}

// DeleteRows marks ordinals of a segment deleted as of version and
// returns the new del vector. It is persisted before it is published.
func (t *Tablet) DeleteRows(ctx context.Context, segID uint32, ordinals []uint32, version int64) (*delvector.DelVector, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.checkSegment(ctx, segID); err != nil {
		return nil, err
	}
	h, err := t.holder(ctx, segID)
	if err != nil {
		return nil, err
	}
	ndv, err := h.Get().AddDelsAsNewVersion(ordinals, version)
	if err != nil {
		return nil, err
	}
	if err := delvector.SaveDelVector(ctx, t.store, t.meta.TabletID, segID, ndv); err != nil {
		return nil, err
	}
	if err := h.Publish(ndv); err != nil {
		return nil, err
	}
	return ndv, nil
}

// checkSegment fails unless segID belongs to a visible rowset of a
// tablet that is not shut down.
func (t *Tablet) checkSegment(ctx context.Context, segID uint32) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.meta.State == StateShutdown {
		return moerr.NewInvalidState(ctx, "%s is shut down", t)
	}
	found := false
	t.rowsets.Ascend(func(i btree.Item) bool {
		m := i.(*rowsetItem).rs.Meta()
		found = segID >= m.RowsetSegID && segID < m.RowsetSegID+uint32(m.NumSegments())
		return !found
	})
	if !found {
		return moerr.NewNotFound(ctx, "segment %d of %s", segID, t)
	}
	return nil
}

// markDropped shuts t down in memory once its metadata is gone, so
// later writes through a stale handle fail.
func (t *Tablet) markDropped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta := t.meta.Clone()
	meta.State = StateShutdown
	t.meta = meta
}

func (t *Tablet) dropDelVectors(meta *rowset.Meta) {
	t.dvLock.Lock()
	defer t.dvLock.Unlock()
	for i := range meta.Segments {
		delete(t.delvecs, meta.SegmentID(i))
	}
}

// RowsetWriterContext prepares the writer of a new rowset of t. base
// carries the storage level segment options.
func (t *Tablet) RowsetWriterContext(version rowset.Version, base segment.WriterOptions, maxSegmentRows int) rowset.WriterContext {
	return rowset.WriterContext{
		FS:             t.fs,
		IDGenerator:    t.idGen,
		TabletID:       t.meta.TabletID,
		TabletUID:      t.meta.TabletUID,
		SchemaHash:     t.meta.SchemaHash,
		Version:        version,
		Segment:        t.meta.Schema.SegmentOptions(base),
		MaxSegmentRows: maxSegmentRows,
	}
}
