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

package page

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
)

func TestEncodeDecode(t *testing.T) {
	raw := bytes.Repeat([]byte("column page content "), 64)
	for _, codec := range []compress.Codec{compress.None, compress.Lz4, compress.Snappy, compress.Zstd} {
		data, err := Encode(TypeData, codec, raw)
		require.NoError(t, err)
		if codec != compress.None {
			assert.Less(t, len(data), len(raw), codec.String())
		}
		typ, decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, TypeData, typ)
		assert.Equal(t, raw, decoded)

		decoded, err = DecodeExpect(TypeData, data)
		require.NoError(t, err)
		assert.Equal(t, raw, decoded)
		_, err = DecodeExpect(TypeIndex, data)
		assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))
	}
}

func TestEmptyPage(t *testing.T) {
	data, err := Encode(TypeIndex, compress.Lz4, nil)
	require.NoError(t, err)
	assert.Len(t, data, TrailerSize)
	raw, err := DecodeExpect(TypeIndex, data)
	require.NoError(t, err)
	assert.Len(t, raw, 0)
}

func TestCorruptedPage(t *testing.T) {
	data, err := Encode(TypeData, compress.Snappy, []byte("hello pages"))
	require.NoError(t, err)

	_, _, err = Decode(data[:TrailerSize-1])
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))

	flipped := append([]byte(nil), data...)
	flipped[0] ^= 0xff
	_, _, err = Decode(flipped)
	assert.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruption))
}
