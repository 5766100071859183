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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

func TestPagePointer(t *testing.T) {
	for _, pp := range []PagePointer{
		{},
		{Offset: 127, Size: 128},
		{Offset: math.MaxUint64, Size: math.MaxUint32},
	} {
		data := pp.Encode()
		decoded, n, err := DecodePagePointer(data)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, pp, decoded)
	}
	// two back to back varints
	assert.Equal(t, []byte{0x7f, 0x80, 0x01}, PagePointer{Offset: 127, Size: 128}.Encode())

	_, _, err := DecodePagePointer([]byte{0x80})
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))
}

func TestIndexMeta(t *testing.T) {
	metas := []IndexMeta{
		{Type: ZoneMapIndex, Page: PagePointer{Offset: 10, Size: 20}, NumPages: 3},
		{Type: BloomFilterIndex, Page: PagePointer{Offset: 30, Size: 40}, NumPages: 3,
			Algorithm: BinaryFuseFilter, HashStrategy: HighwayHash},
	}
	for _, m := range metas {
		var decoded IndexMeta
		require.NoError(t, decoded.Unmarshal(m.Marshal()))
		assert.Equal(t, m, decoded)
	}
}
