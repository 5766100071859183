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
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/delvector"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
)

// Manager owns the tablets of one data dir.
type Manager struct {
	store *kvstore.KVStore
	fs    fileservice.FileService
	idGen rowset.IDGenerator

	mu      sync.RWMutex
	tablets map[int64]*Tablet
}

func NewManager(store *kvstore.KVStore, fs fileservice.FileService, idGen rowset.IDGenerator) *Manager {
	return &Manager{
		store:   store,
		fs:      fs,
		idGen:   idGen,
		tablets: make(map[int64]*Tablet),
	}
}

func (m *Manager) Store() *kvstore.KVStore {
	return m.store
}

func (m *Manager) FileService() fileservice.FileService {
	return m.fs
}

func (m *Manager) IDGenerator() rowset.IDGenerator {
	return m.idGen
}

// CreateTablet persists a new tablet meta and registers the tablet.
func (m *Manager) CreateTablet(ctx context.Context, tabletID int64, schemaHash int64, schema Schema) (*Tablet, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tablets[tabletID]; ok {
		return nil, moerr.NewTabletAlreadyExists(ctx, tabletID)
	}
	meta := NewMeta(tabletID, schemaHash, schema)
	if err := SaveTabletMeta(ctx, m.store, meta); err != nil {
		return nil, err
	}
	t := NewTablet(meta, m.store, m.fs, m.idGen)
	m.tablets[tabletID] = t
	logutil.Info("create tablet", logutil.TabletField(tabletID), zap.Int64("schema-hash", schemaHash))
	return t, nil
}

func (m *Manager) GetTablet(ctx context.Context, tabletID int64) (*Tablet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tablets[tabletID]
	if !ok {
		return nil, moerr.NewTabletNotFound(ctx, tabletID)
	}
	return t, nil
}

// Tablets returns the registered tablets ordered by id.
func (m *Manager) Tablets() []*Tablet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tablets := make([]*Tablet, 0, len(m.tablets))
	for _, t := range m.tablets {
		tablets = append(tablets, t)
	}
	sort.Slice(tablets, func(i, j int) bool {
		return tablets[i].ID() < tablets[j].ID()
	})
	return tablets
}

// DropTablet removes the metadata of a tablet, then its segment files.
// File removal errors are logged only, the orphan sweeper collects them.
func (m *Manager) DropTablet(ctx context.Context, tabletID int64) error {
	m.mu.Lock()
	t, ok := m.tablets[tabletID]
	if !ok {
		m.mu.Unlock()
		return moerr.NewTabletNotFound(ctx, tabletID)
	}
	delete(m.tablets, tabletID)
	m.mu.Unlock()

	rowsets := t.Rowsets()
	wb := kvstore.NewWriteBatch()
	AddRemoveTabletMeta(wb, t.ID(), t.SchemaHash())
	for _, rs := range rowsets {
		rowset.AddRemoveRowsetMeta(wb, t.UID(), rs.ID())
	}
	if err := m.store.WriteBatch(ctx, wb); err != nil {
		return err
	}
	t.markDropped()
	if err := delvector.DeleteTabletDelVectors(ctx, m.store, t.ID()); err != nil {
		return err
	}
	for _, rs := range rowsets {
		if err := rs.RemoveFiles(ctx); err != nil {
			logutil.Warn("remove rowset files",
				logutil.TabletField(tabletID),
				logutil.RowsetField(rs.ID().String()),
				logutil.ErrorField(err))
		}
	}
	logutil.Info("drop tablet", logutil.TabletField(tabletID), zap.Int("rowsets", len(rowsets)))
	return nil
}

// LoadTablets registers every tablet persisted in the store together
// with its visible rowsets. It returns the number of tablets loaded.
func (m *Manager) LoadTablets(ctx context.Context) (int, error) {
	var metas []*Meta
	if err := TraverseTabletMetas(ctx, m.store, func(meta *Meta) bool {
		metas = append(metas, meta)
		return true
	}); err != nil {
		return 0, err
	}
	byUID := make(map[rowset.UniqueID]*Tablet, len(metas))
	m.mu.Lock()
	for _, meta := range metas {
		if _, ok := m.tablets[meta.TabletID]; ok {
			logutil.Warn("skip duplicate tablet meta", logutil.TabletField(meta.TabletID))
			continue
		}
		t := NewTablet(meta, m.store, m.fs, m.idGen)
		m.tablets[meta.TabletID] = t
		byUID[meta.TabletUID] = t
	}
	m.mu.Unlock()

	err := rowset.TraverseRowsetMetas(ctx, m.store, func(uid rowset.UniqueID, id rowset.RowsetID, value []byte) bool {
		t, ok := byUID[uid]
		if !ok {
			return true
		}
		meta := &rowset.Meta{}
		if err := meta.Unmarshal(value); err != nil {
			logutil.Warn("skip malformed rowset meta",
				logutil.RowsetField(id.String()),
				logutil.ErrorField(err))
			return true
		}
		if meta.State != rowset.StateVisible {
			return true
		}
		t.addLoadedRowset(meta)
		return true
	})
	if err != nil {
		return 0, err
	}
	return len(byUID), nil
}

// LoadTablet registers a tablet whose metadata was written into the store
// by someone else, such as a migration.
func (m *Manager) LoadTablet(ctx context.Context, tabletID int64, schemaHash int64) (*Tablet, error) {
	meta, err := GetTabletMeta(ctx, m.store, tabletID, schemaHash)
	if err != nil {
		return nil, err
	}
	t := NewTablet(meta, m.store, m.fs, m.idGen)
	err = m.store.Iterate(ctx, kvstore.MetaColumnFamily, rowset.TabletRowsetMetaPrefix(meta.TabletUID), func(_, value []byte) (bool, error) {
		rm := &rowset.Meta{}
		if err := rm.Unmarshal(value); err != nil {
			return false, err
		}
		if rm.State == rowset.StateVisible {
			t.addLoadedRowset(rm)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tablets[tabletID]; ok {
		return nil, moerr.NewTabletAlreadyExists(ctx, tabletID)
	}
	m.tablets[tabletID] = t
	return t, nil
}

// UnregisterTablet forgets a tablet without touching its data.
func (m *Manager) UnregisterTablet(tabletID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tablets, tabletID)
}
