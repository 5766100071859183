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

package rowset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
)

func newTestMeta(g IDGenerator, uid UniqueID, v Version) *Meta {
	m := NewMeta(g.NextID(), 10001, uid, 3456, v)
	m.NumRows = 300
	m.TotalDiskSize = 4096
	m.DataDiskSize = 3072
	m.IndexDiskSize = 1024
	m.Segments = []SegmentMeta{
		{NumRows: 100, DataSize: 1000, IndexSize: 300},
		{NumRows: 200, DataSize: 2072, IndexSize: 724},
	}
	m.State = StateCommitted
	return m
}

func TestMetaMarshal(t *testing.T) {
	g := NewUniqueRowsetIDGenerator(NewUniqueID())
	m := newTestMeta(g, NewUniqueID(), Version{Start: 2, End: 5})
	m.Overlapping = true

	var decoded Meta
	require.NoError(t, decoded.Unmarshal(m.Marshal()))
	assert.Equal(t, m, &decoded)
	assert.Equal(t, 2, decoded.NumSegments())

	err := decoded.Unmarshal([]byte{0x05, 0x08})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))
}

func TestMetaSetVisible(t *testing.T) {
	g := NewUniqueRowsetIDGenerator(NewUniqueID())
	m := newTestMeta(g, NewUniqueID(), Version{Start: 0, End: 1})
	m.State = StatePrepared
	assert.True(t, moerr.IsMoErrCode(m.SetVisible(), moerr.ErrInvalidState))
	m.State = StateCommitted
	require.NoError(t, m.SetVisible())
	assert.Equal(t, StateVisible, m.State)
	require.NoError(t, m.SetVisible())

	c := m.Clone()
	c.Segments[0].NumRows = 1
	assert.Equal(t, int64(100), m.Segments[0].NumRows)
}

func TestRowsetMetaManager(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewKVStore(filepath.Join(t.TempDir(), "meta"))
	require.NoError(t, store.Init(ctx, false))
	defer store.Close()

	g := NewUniqueRowsetIDGenerator(NewUniqueID())
	uid1, uid2 := NewUniqueID(), NewUniqueID()
	m1 := newTestMeta(g, uid1, Version{Start: 0, End: 1})
	m2 := newTestMeta(g, uid1, Version{Start: 2, End: 2})
	m3 := newTestMeta(g, uid2, Version{Start: 0, End: 4})

	assert.False(t, CheckRowsetMeta(ctx, store, uid1, m1.RowsetID))
	_, err := GetRowsetMetaValue(ctx, store, uid1, m1.RowsetID)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrRowsetNotFound))

	require.NoError(t, SaveRowsetMeta(ctx, store, uid1, m1))
	require.NoError(t, SaveRowsetMeta(ctx, store, uid1, m2))
	wb := kvstore.NewWriteBatch()
	AddSaveRowsetMeta(wb, uid2, m3)
	require.NoError(t, store.WriteBatch(ctx, wb))
	require.NoError(t, FlushRowsetMetas(ctx, store))

	assert.True(t, CheckRowsetMeta(ctx, store, uid1, m1.RowsetID))
	got, err := GetRowsetMeta(ctx, store, uid1, m2.RowsetID)
	require.NoError(t, err)
	assert.Equal(t, m2, got)

	visited := make(map[RowsetID]UniqueID)
	err = TraverseRowsetMetas(ctx, store, func(uid UniqueID, id RowsetID, value []byte) bool {
		var m Meta
		require.NoError(t, m.Unmarshal(value))
		assert.Equal(t, id, m.RowsetID)
		visited[id] = uid
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, map[RowsetID]UniqueID{m1.RowsetID: uid1, m2.RowsetID: uid1, m3.RowsetID: uid2}, visited)

	n := 0
	err = store.Iterate(ctx, kvstore.MetaColumnFamily, TabletRowsetMetaPrefix(uid1), func(key, value []byte) (bool, error) {
		n++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, RemoveRowsetMeta(ctx, store, uid1, m1.RowsetID))
	assert.False(t, CheckRowsetMeta(ctx, store, uid1, m1.RowsetID))
	wb = kvstore.NewWriteBatch()
	AddRemoveRowsetMeta(wb, uid2, m3.RowsetID)
	require.NoError(t, store.WriteBatch(ctx, wb))
	assert.False(t, CheckRowsetMeta(ctx, store, uid2, m3.RowsetID))
	assert.True(t, CheckRowsetMeta(ctx, store, uid1, m2.RowsetID))
}

func TestParseRowsetMetaKey(t *testing.T) {
	uid := NewUniqueID()
	for _, id := range []RowsetID{NewRowsetID(2, 9, 8, 7), NewRowsetID(1, 42, 0, 0)} {
		pu, pid, err := parseRowsetMetaKey(RowsetMetaKey(uid, id))
		require.NoError(t, err)
		assert.Equal(t, uid, pu)
		assert.Equal(t, id, pid)
	}
	_, _, err := parseRowsetMetaKey([]byte("rst_short"))
	assert.Error(t, err)
}
