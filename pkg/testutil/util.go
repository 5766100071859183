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

package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/container/batch"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
)

// NewChunk returns n rows of the given types. Without random, row i of
// every column holds the value derived from i, so the rows are sorted.
func NewChunk(typs []types.T, random bool, n int) *batch.Chunk {
	return NewChunkFrom(typs, random, 0, n)
}

// NewChunkFrom is NewChunk with rows derived from start, start+1, ...
func NewChunkFrom(typs []types.T, random bool, start, n int) *batch.Chunk {
	c := &batch.Chunk{Vecs: make([]*vector.Vector, len(typs))}
	for i, typ := range typs {
		c.Vecs[i] = NewVector(typ, random, start, n)
	}
	return c
}

func NewVector(typ types.T, random bool, start, n int) *vector.Vector {
	vec := vector.NewWithCapacity(typ, n)
	for i := start; i < start+n; i++ {
		v := int64(i)
		if random {
			v = rand.Int63n(1 << 20)
		}
		if err := vec.AppendValue(Value(typ, v)); err != nil {
			panic(err)
		}
	}
	return vec
}

// Value maps v to a value of typ preserving the order of small v.
func Value(typ types.T, v int64) any {
	switch typ {
	case types.T_bool:
		return v%2 == 1
	case types.T_int8:
		return int8(v % 128)
	case types.T_int16:
		return int16(v % 32768)
	case types.T_int32, types.T_date:
		return int32(v)
	case types.T_int64, types.T_datetime, types.T_decimal64:
		return v
	case types.T_uint8:
		return uint8(v % 256)
	case types.T_uint16:
		return uint16(v % 65536)
	case types.T_uint32:
		return uint32(v)
	case types.T_uint64:
		return uint64(v)
	case types.T_float32:
		return float32(v) / 2
	case types.T_float64:
		return float64(v) / 4
	case types.T_char, types.T_varchar:
		return fmt.Sprintf("%08d", v)
	case types.T_json:
		return `{"v":` + strconv.FormatInt(v, 10) + `}`
	default:
		panic(fmt.Errorf("unsupported type '%v'", typ))
	}
}

// NewKVStore opens a metadata store under a test temp dir. It is closed
// when the test ends.
func NewKVStore(t testing.TB) *kvstore.KVStore {
	store := kvstore.NewKVStore(filepath.Join(t.TempDir(), "meta"))
	require.NoError(t, store.Init(context.Background(), false))
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
