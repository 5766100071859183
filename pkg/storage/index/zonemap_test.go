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

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
)

func TestZoneMapWriterReader(t *testing.T) {
	ctx := context.Background()
	fs, fw := newTestFileWriter(t)
	w := NewZoneMapWriter(types.T_int64)

	pages := [][]any{
		{int64(5), int64(-3), nil, int64(100)},
		{nil, nil},
		{int64(7)},
	}
	for _, vals := range pages {
		v := vector.New(types.T_int64)
		for _, val := range vals {
			require.NoError(t, v.AppendValue(val))
		}
		w.AddValues(v, 0, v.Length())
		w.Flush()
	}
	w.AddNulls(3)
	w.Flush()
	assert.Equal(t, 4, w.NumPages())

	meta, err := w.Finish(fw, compress.Lz4)
	require.NoError(t, err)
	syncFile(t, fw)

	r := NewZoneMapReader()
	assert.False(t, r.Loaded())
	loadedByMe, err := r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, meta)
	require.NoError(t, err)
	assert.True(t, loadedByMe)
	assert.True(t, r.Loaded())
	require.Equal(t, 4, r.NumPages())

	seg := r.SegmentZoneMap()
	assert.True(t, seg.HasNull)
	assert.True(t, seg.HasNotNull)
	assert.Equal(t, types.MustEncodeValue(int64(-3), types.T_int64), seg.Min)
	assert.Equal(t, types.MustEncodeValue(int64(100), types.T_int64), seg.Max)

	p0 := r.PageZoneMap(0)
	for _, val := range []int64{5, -3, 100} {
		assert.True(t, p0.MayContain(types.MustEncodeValue(val, types.T_int64)))
	}
	assert.False(t, p0.MayContain(types.MustEncodeValue(int64(101), types.T_int64)))
	assert.True(t, p0.HasNull)

	p1 := r.PageZoneMap(1)
	assert.True(t, p1.HasNull)
	assert.False(t, p1.HasNotNull)
	assert.False(t, p1.MayContain(types.MustEncodeValue(int64(0), types.T_int64)))

	p2 := r.PageZoneMap(2)
	assert.False(t, p2.HasNull)
	assert.Equal(t, "ZM[7, 7](null=false)", p2.String(types.T_int64))

	p3 := r.PageZoneMap(3)
	assert.True(t, p3.HasNull)
	assert.False(t, p3.HasNotNull)

	// a second load is a no-op
	loadedByMe, err = r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, meta)
	require.NoError(t, err)
	assert.False(t, loadedByMe)
	assert.Equal(t, int64(1), fs.reads.Load())
}

func TestZoneMapIntersect(t *testing.T) {
	enc := func(v int64) []byte { return types.MustEncodeValue(v, types.T_int64) }
	zm := ZoneMap{}
	for _, v := range []int64{10, 20, 15} {
		zm.Update(enc(v))
	}
	assert.True(t, zm.MayIntersect(nil, true, nil, true))
	assert.True(t, zm.MayIntersect(enc(20), true, nil, true))
	assert.False(t, zm.MayIntersect(enc(20), false, nil, true))
	assert.True(t, zm.MayIntersect(nil, true, enc(10), true))
	assert.False(t, zm.MayIntersect(nil, true, enc(10), false))
	assert.False(t, zm.MayIntersect(enc(21), true, enc(30), true))
	assert.True(t, zm.MayIntersect(enc(0), true, enc(12), true))

	var merged ZoneMap
	merged.Merge(&ZoneMap{HasNull: true})
	assert.False(t, merged.HasNotNull)
	merged.Merge(&zm)
	assert.Equal(t, enc(10), merged.Min)
	assert.Equal(t, enc(20), merged.Max)
	assert.True(t, merged.HasNull)
}

func TestZoneMapStrings(t *testing.T) {
	w := NewZoneMapWriter(types.T_varchar)
	v := vector.New(types.T_varchar)
	for _, s := range []string{"banana", "", "apple", "cherry"} {
		require.NoError(t, v.AppendValue(s))
	}
	w.AddValues(v, 1, 3)
	w.Flush()
	seg := w.SegmentZoneMap()
	assert.Empty(t, seg.Min)
	assert.Equal(t, []byte("cherry"), seg.Max)
	for i := 1; i < 4; i++ {
		assert.True(t, seg.MayContain(v.Get(i)))
	}
}

func TestZoneMapLoadErrors(t *testing.T) {
	ctx := context.Background()
	fs, fw := newTestFileWriter(t)
	w := NewZoneMapWriter(types.T_int32)
	w.Flush()
	meta, err := w.Finish(fw, compress.None)
	require.NoError(t, err)
	syncFile(t, fw)

	r := NewZoneMapReader()
	bad := meta
	bad.Type = ShortKeyIndex
	_, err = r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, bad)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))
	assert.False(t, r.Loaded())

	bad = meta
	bad.NumPages = 2
	_, err = r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, bad)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))

	bad = meta
	bad.Page.Offset++
	bad.Page.Size--
	_, err = r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, bad)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))

	// the failed loads left the reader retryable
	loadedByMe, err := r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, meta)
	require.NoError(t, err)
	assert.True(t, loadedByMe)
}

func TestZoneMapFailedLoadKeepsReaderEmpty(t *testing.T) {
	ctx := context.Background()
	fs, fw := newTestFileWriter(t)
	w := NewZoneMapWriter(types.T_int64)
	v := vector.New(types.T_int64)
	require.NoError(t, v.AppendValue(int64(42)))
	w.AddValues(v, 0, v.Length())
	w.Flush()
	meta, err := w.Finish(fw, compress.None)
	require.NoError(t, err)
	syncFile(t, fw)

	r := NewZoneMapReader()
	bad := meta
	bad.NumPages = 3
	_, err = r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, bad)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))
	assert.Nil(t, r.SegmentZoneMap().Min)
	assert.False(t, r.SegmentZoneMap().HasNotNull)
	assert.Zero(t, r.NumPages())

	_, err = r.Load(ctx, LoadOptions{FS: fs, Path: fw.Path()}, meta)
	require.NoError(t, err)
	assert.Equal(t, types.MustEncodeValue(int64(42), types.T_int64), r.SegmentZoneMap().Min)
	assert.Equal(t, 1, r.NumPages())
}
