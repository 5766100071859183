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

package kvstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

func newTestStore(t *testing.T) *KVStore {
	s := NewKVStore(filepath.Join(t.TempDir(), "meta"))
	require.NoError(t, s.Init(context.Background(), false))
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestGetPutRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, MetaColumnFamily, []byte("k1"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))

	require.NoError(t, s.Put(ctx, MetaColumnFamily, []byte("k1"), []byte("v1")))
	v, err := s.Get(ctx, MetaColumnFamily, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	// namespaces do not see each other
	_, err = s.Get(ctx, DefaultColumnFamily, []byte("k1"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))

	require.NoError(t, s.Remove(ctx, MetaColumnFamily, []byte("k1")))
	_, err = s.Get(ctx, MetaColumnFamily, []byte("k1"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))
	require.NoError(t, s.Remove(ctx, MetaColumnFamily, []byte("missing")))

	_, err = s.Get(ctx, NumColumnFamilies, []byte("k1"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
}

func TestWriteBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, MetaColumnFamily, []byte("old"), []byte("x")))

	wb := NewWriteBatch()
	wb.Put(MetaColumnFamily, []byte("a"), []byte("1"))
	wb.Put(BetaColumnFamily, []byte("b"), []byte("2"))
	wb.Delete(MetaColumnFamily, []byte("old"))
	assert.Equal(t, 3, wb.Count())
	require.NoError(t, s.WriteBatch(ctx, wb))

	v, err := s.Get(ctx, MetaColumnFamily, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	v, err = s.Get(ctx, BetaColumnFamily, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	_, err = s.Get(ctx, MetaColumnFamily, []byte("old"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound))

	wb.Reset()
	assert.Equal(t, 0, wb.Count())
	require.NoError(t, s.WriteBatch(ctx, wb))
}

func TestIterate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, MetaColumnFamily, []byte(fmt.Sprintf("rst_%02d", i)), []byte{byte(i)}))
		require.NoError(t, s.Put(ctx, MetaColumnFamily, []byte(fmt.Sprintf("tbl_%02d", i)), []byte{byte(i)}))
	}
	require.NoError(t, s.Put(ctx, DefaultColumnFamily, []byte("rst_99"), nil))

	var keys []string
	err := s.Iterate(ctx, MetaColumnFamily, []byte("rst_"), func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, keys, 10)
	assert.Equal(t, "rst_00", keys[0])
	assert.Equal(t, "rst_09", keys[9])

	keys = keys[:0]
	err = s.Iterate(ctx, MetaColumnFamily, []byte("rst_"), func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return len(keys) < 3, nil
	})
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys = keys[:0]
	err = s.IterateRange(ctx, MetaColumnFamily, []byte("rst_05"), []byte("tbl_02"), func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rst_05", "rst_06", "rst_07", "rst_08", "rst_09", "tbl_00", "tbl_01"}, keys)

	keys = keys[:0]
	err = s.IterateRange(ctx, MetaColumnFamily, []byte("tbl_08"), nil, func(key, value []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl_08", "tbl_09"}, keys)

	visitErr := moerr.NewInternalErrorNoCtx("visitor failed")
	err = s.Iterate(ctx, MetaColumnFamily, nil, func(key, value []byte) (bool, error) {
		return false, visitErr
	})
	assert.Equal(t, visitErr, err)
}

func TestIterateTimeout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, MetaColumnFamily, []byte{byte(i)}, nil))
	}
	s.SetIterateTimeout(time.Millisecond)
	visited := 0
	err := s.Iterate(ctx, MetaColumnFamily, nil, func(key, value []byte) (bool, error) {
		visited++
		time.Sleep(2 * time.Millisecond)
		return true, nil
	})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrTimeout))
	assert.Less(t, visited, 10)
}

func TestOptDeleteRange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key_%03d", i))
		require.NoError(t, s.Put(ctx, MetaColumnFamily, key, key))
	}
	require.NoError(t, s.OptDeleteRange(ctx, MetaColumnFamily, []byte("key_020"), []byte("key_050")))

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key_%03d", i))
		v, err := s.Get(ctx, MetaColumnFamily, key)
		if i >= 20 && i < 50 {
			assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotFound), "key %s", key)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, key, v)
	}

	err := s.OptDeleteRange(ctx, MetaColumnFamily, []byte("b"), []byte("a"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))
}

func TestCompactAndFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Put(ctx, DefaultColumnFamily, []byte(fmt.Sprintf("%d", i)), []byte("v")))
	}
	require.NoError(t, s.FlushWAL(ctx))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Compact(ctx))
	v, err := s.Get(ctx, DefaultColumnFamily, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "meta")

	s := NewKVStore(root)
	require.NoError(t, s.Init(ctx, false))
	require.NoError(t, s.Put(ctx, MetaColumnFamily, []byte("k"), []byte("v")))
	err := s.Init(ctx, false)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
	require.NoError(t, s.Close())

	ro := NewKVStore(root)
	require.NoError(t, ro.Init(ctx, true))
	defer ro.Close()
	v, err := ro.Get(ctx, MetaColumnFamily, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	err = ro.Put(ctx, MetaColumnFamily, []byte("k"), []byte("v2"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrNotSupported))

	missing := NewKVStore(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, missing.Init(ctx, true))

	closed := NewKVStore(root)
	_, err = closed.Get(ctx, MetaColumnFamily, []byte("k"))
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidState))
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("ab"), PrefixUpperBound([]byte("aa")))
	assert.Equal(t, []byte{0x02}, PrefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, PrefixUpperBound([]byte{0xff, 0xff}))
}
