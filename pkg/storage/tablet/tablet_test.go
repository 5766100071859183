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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/container/batch"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/storage/delvector"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
	"github.com/matrixorigin/colstore/pkg/testutil"
)

func testSchema() Schema {
	return Schema{
		Columns: []Column{
			{UniqueID: 0, Name: "k", Type: types.T_int64, IsKey: true, BloomFilter: true},
			{UniqueID: 1, Name: "v", Type: types.T_varchar, Nullable: true, Length: 16},
			{UniqueID: 2, Name: "w", Type: types.T_float64, Nullable: true},
		},
		NumShortKeyColumns: 1,
	}
}

type testEnv struct {
	store *kvstore.KVStore
	fs    fileservice.FileService
	idGen *rowset.UniqueRowsetIDGenerator
	mgr   *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		store: testutil.NewKVStore(t),
		fs:    fileservice.NewMemoryFS("mem"),
		idGen: rowset.NewUniqueRowsetIDGenerator(rowset.NewUniqueID()),
	}
	env.mgr = NewManager(env.store, env.fs, env.idGen)
	return env
}

func writeRowset(t *testing.T, tab *Tablet, v rowset.Version, chunks ...*batch.Chunk) *rowset.Meta {
	ctx := context.Background()
	w, err := rowset.NewWriter(tab.RowsetWriterContext(v, segment.WriterOptions{PageRows: 16}, 120))
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, w.AddChunk(ctx, c))
	}
	meta, err := w.Build(ctx)
	require.NoError(t, err)
	return meta
}

func seqChunk(start, n int) *batch.Chunk {
	s := testSchema()
	return testutil.NewChunkFrom(s.Types(), false, start, n)
}

func readAll(t *testing.T, r *Reader, params ReaderParams) []*batch.Chunk {
	ctx := context.Background()
	require.NoError(t, r.Prepare(ctx))
	require.NoError(t, r.Open(ctx, params))
	var chunks []*batch.Chunk
	for {
		c, err := r.GetNext(ctx)
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

func int64Column(t *testing.T, chunks []*batch.Chunk, col int) []int64 {
	var vals []int64
	for _, c := range chunks {
		for i := 0; i < c.Rows(); i++ {
			v, err := c.Vecs[col].GetValue(i)
			require.NoError(t, err)
			vals = append(vals, v.(int64))
		}
	}
	return vals
}

func TestAddRowsetAndLoad(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 10001, 3, testSchema())
	require.NoError(t, err)

	_, err = env.mgr.CreateTablet(ctx, 10001, 3, testSchema())
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrTabletAlreadyExists))

	m0 := writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 100))
	m1 := writeRowset(t, tab, rowset.Version{Start: 1, End: 1}, seqChunk(100, 300))
	require.NoError(t, tab.AddRowset(ctx, m0))
	require.NoError(t, tab.AddRowset(ctx, m1))
	assert.False(t, env.idGen.IDInUse(m0.RowsetID))
	assert.Equal(t, rowset.StateVisible, m1.State)
	assert.Equal(t, uint32(0), m0.RowsetSegID)
	assert.Equal(t, uint32(1), m1.RowsetSegID)
	assert.Equal(t, 3, m1.NumSegments())
	assert.Equal(t, int64(400), tab.NumRows())
	assert.Equal(t, rowset.Version{Start: 1, End: 1}, tab.MaxVersion())
	assert.Greater(t, tab.AverageRowSize(), int64(0))

	overlap := writeRowset(t, tab, rowset.Version{Start: 1, End: 2}, seqChunk(400, 10))
	err = tab.AddRowset(ctx, overlap)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrDuplicate))

	reloaded := NewManager(env.store, env.fs, env.idGen)
	n, err := reloaded.LoadTablets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rt, err := reloaded.GetTablet(ctx, 10001)
	require.NoError(t, err)
	require.Equal(t, 2, rt.NumRowsets())
	assert.Equal(t, m1.RowsetSegID, rt.Rowsets()[1].Meta().RowsetSegID)
	assert.Equal(t, tab.UID(), rt.UID())

	m2 := writeRowset(t, rt, rowset.Version{Start: 2, End: 2}, seqChunk(400, 10))
	require.NoError(t, rt.AddRowset(ctx, m2))
	assert.Equal(t, uint32(4), m2.RowsetSegID)
}

func TestCaptureConsistentRowsets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 1, 1, testSchema())
	require.NoError(t, err)
	for _, v := range []rowset.Version{{Start: 0, End: 1}, {Start: 2, End: 2}, {Start: 4, End: 4}} {
		require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, v, seqChunk(0, 5))))
	}

	rowsets, err := tab.CaptureConsistentRowsets(ctx, rowset.Version{Start: 0, End: 2})
	require.NoError(t, err)
	require.Len(t, rowsets, 2)
	assert.Equal(t, rowset.Version{Start: 0, End: 1}, rowsets[0].Version())
	assert.Equal(t, rowset.Version{Start: 2, End: 2}, rowsets[1].Version())

	_, err = tab.CaptureConsistentRowsets(ctx, rowset.Version{Start: 0, End: 4})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
	_, err = tab.CaptureConsistentRowsets(ctx, rowset.Version{Start: 0, End: 0})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
	_, err = tab.CaptureConsistentRowsets(ctx, rowset.Version{Start: 3, End: 1})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
}

func TestModifyRowsets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 2, 1, testSchema())
	require.NoError(t, err)
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 50))))
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 1, End: 1}, seqChunk(50, 50))))
	old := tab.Rowsets()
	_, err = tab.DeleteRows(ctx, old[0].Meta().SegmentID(0), []uint32{1, 2}, 1)
	require.NoError(t, err)

	merged := writeRowset(t, tab, rowset.Version{Start: 0, End: 1}, seqChunk(0, 100))
	require.NoError(t, tab.ModifyRowsets(ctx, []*rowset.Meta{merged}, old))
	rowsets := tab.Rowsets()
	require.Len(t, rowsets, 1)
	assert.Equal(t, merged.RowsetID, rowsets[0].ID())
	assert.Equal(t, uint32(2), merged.RowsetSegID)

	_, err = rowset.GetRowsetMeta(ctx, env.store, tab.UID(), old[0].ID())
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
	versions, err := delvector.ListVersions(ctx, env.store, tab.ID(), old[0].Meta().SegmentID(0))
	require.NoError(t, err)
	assert.Empty(t, versions)

	err = tab.ModifyRowsets(ctx, nil, old)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrRowsetNotFound))
}

func TestReaderAppliesDelVectors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 3, 1, testSchema())
	require.NoError(t, err)
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 200))))
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 1, End: 1}, seqChunk(200, 100))))

	segID := tab.Rowsets()[0].Meta().SegmentID(1)
	dv, err := tab.DeleteRows(ctx, segID, []uint32{0, 1, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), dv.Cardinality())
	_, err = tab.DeleteRows(ctx, segID, []uint32{4}, 1)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))

	keys := int64Column(t, readAll(t, NewReader(tab, 1), ReaderParams{ChunkSize: 64, Columns: []int{0}}), 0)
	assert.Len(t, keys, 297)
	assert.NotContains(t, keys, int64(120))
	assert.Contains(t, keys, int64(123))

	r := NewRowsetReader(tab, tab.Rowsets()[:1], 0)
	keys = int64Column(t, readAll(t, r, ReaderParams{Columns: []int{0}}), 0)
	assert.Len(t, keys, 200)

	_, err = NewReader(tab, 5).GetNext(ctx)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
	err = NewReader(tab, 5).Prepare(ctx)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
}

func TestReaderSortedMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tab, err := env.mgr.CreateTablet(ctx, 4, 1, testSchema())
	require.NoError(t, err)
	s := testSchema()
	even, odd := batch.NewChunk(s.Types()), batch.NewChunk(s.Types())
	for i := 0; i < 300; i++ {
		c := even
		if i%2 == 1 {
			c = odd
		}
		require.NoError(t, c.Vecs[0].AppendValue(int64(i)))
		require.NoError(t, c.Vecs[1].AppendValue("x"))
		c.Vecs[2].AppendNull()
	}
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, even)))
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 1, End: 1}, odd)))

	chunks := readAll(t, NewReader(tab, 1), ReaderParams{ChunkSize: 50, SortedMerge: true, Columns: []int{2, 0}})
	require.Len(t, chunks, 6)
	keys := int64Column(t, chunks, 1)
	require.Len(t, keys, 300)
	for i, k := range keys {
		assert.Equal(t, int64(i), k)
	}
	assert.True(t, chunks[0].Vecs[0].IsNull(0))
}

func TestDropTablet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 5, 1, testSchema())
	require.NoError(t, err)
	meta := writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 10))
	require.NoError(t, tab.AddRowset(ctx, meta))
	_, err = tab.DeleteRows(ctx, meta.SegmentID(0), []uint32{3}, 1)
	require.NoError(t, err)

	require.NoError(t, env.mgr.DropTablet(ctx, 5))
	_, err = env.mgr.GetTablet(ctx, 5)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrTabletNotFound))
	_, err = GetTabletMeta(ctx, env.store, 5, 1)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrTabletNotFound))
	_, err = env.fs.Stat(ctx, rowset.SegmentPath(5, meta.RowsetID, 0))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrFileNotFound))
	versions, err := delvector.ListVersions(ctx, env.store, 5, meta.SegmentID(0))
	require.NoError(t, err)
	assert.Empty(t, versions)

	// a stale handle no longer takes deletes
	_, err = tab.DeleteRows(ctx, meta.SegmentID(0), []uint32{4}, 2)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
	versions, err = delvector.ListVersions(ctx, env.store, 5, meta.SegmentID(0))
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestReplaceRowsets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 7, 1, testSchema())
	require.NoError(t, err)
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 50))))
	require.NoError(t, tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 1, End: 1}, seqChunk(50, 50))))
	old := tab.Rowsets()
	segID := old[0].Meta().SegmentID(0)
	_, err = tab.DeleteRows(ctx, segID, []uint32{1}, 1)
	require.NoError(t, err)

	read := func() map[uint32]int64 {
		versions := make(map[uint32]int64)
		for _, rs := range old {
			for i := 0; i < rs.NumSegments(); i++ {
				dv, err := tab.DelVector(ctx, rs.Meta().SegmentID(i), maxDelVersion)
				require.NoError(t, err)
				versions[rs.Meta().SegmentID(i)] = dv.Version()
			}
		}
		return versions
	}
	seen := read()
	// a delete lands after the rows were read
	_, err = tab.DeleteRows(ctx, segID, []uint32{2}, 2)
	require.NoError(t, err)

	merged := writeRowset(t, tab, rowset.Version{Start: 0, End: 1}, seqChunk(0, 100))
	err = tab.ReplaceRowsets(ctx, []*rowset.Meta{merged}, old, seen)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
	require.Len(t, tab.Rowsets(), 2)
	versions, err := delvector.ListVersions(ctx, env.store, tab.ID(), segID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, versions)

	require.NoError(t, tab.ReplaceRowsets(ctx, []*rowset.Meta{merged}, old, read()))
	require.Len(t, tab.Rowsets(), 1)
	_, err = tab.DeleteRows(ctx, segID, []uint32{3}, 2)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
	versions, err = delvector.ListVersions(ctx, env.store, tab.ID(), segID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestExclusiveWriteHoldsDeletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 8, 1, testSchema())
	require.NoError(t, err)
	meta := writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 10))
	require.NoError(t, tab.AddRowset(ctx, meta))

	done := make(chan error, 1)
	require.NoError(t, tab.ExclusiveWrite(func() error {
		go func() {
			_, err := tab.DeleteRows(ctx, meta.SegmentID(0), []uint32{0}, 1)
			done <- err
		}()
		select {
		case <-done:
			t.Error("delete ran inside an exclusive write")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	}))
	require.NoError(t, <-done)
	dv, err := tab.DelVector(ctx, meta.SegmentID(0), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), dv.Cardinality())
}

func TestTabletState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	tab, err := env.mgr.CreateTablet(ctx, 6, 1, testSchema())
	require.NoError(t, err)
	require.NoError(t, tab.SetState(ctx, StateShutdown))
	assert.Error(t, tab.SetState(ctx, StateNormal))
	meta, err := GetTabletMeta(ctx, env.store, 6, 1)
	require.NoError(t, err)
	assert.Equal(t, StateShutdown, meta.State)
	err = tab.AddRowset(ctx, writeRowset(t, tab, rowset.Version{Start: 0, End: 0}, seqChunk(0, 1)))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
}
