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

package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/container/types"
)

func TestChunk(t *testing.T) {
	src := NewChunk([]types.T{types.T_int32, types.T_varchar})
	for i := 0; i < 4; i++ {
		require.NoError(t, src.Vecs[0].AppendValue(int32(i)))
		require.NoError(t, src.Vecs[1].AppendValue("v"))
	}
	require.Equal(t, 4, src.Rows())
	require.Equal(t, []types.T{types.T_int32, types.T_varchar}, src.Types())

	dst := NewChunk(src.Types())
	dst.AppendRow(src, 3)
	dst.AppendRow(src, 1)
	require.Equal(t, 2, dst.Rows())
	v, err := dst.Vecs[0].GetValue(0)
	require.NoError(t, err)
	require.Equal(t, int32(3), v)

	src.Shrink([]int64{0, 2})
	require.Equal(t, 2, src.Rows())
	require.Greater(t, src.MemSize(), 0)

	src.Reset()
	require.True(t, src.IsEmpty())

	empty := NewChunk(nil)
	empty.SetRows(10)
	require.Equal(t, 10, empty.Rows())
	require.Equal(t, 0, empty.NumColumns())
}
