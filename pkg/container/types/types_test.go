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

package types

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestT_String(t *testing.T) {
	require.Equal(t, "TINYINT", T_int8.String())
	require.Equal(t, "SMALLINT", T_int16.String())
	require.Equal(t, "INT", T_int32.String())
	require.Equal(t, "T_varchar", T_varchar.OidString())

	typ, err := ParseType("bigint")
	require.NoError(t, err)
	require.Equal(t, T_int64, typ)
	_, err = ParseType("geometry")
	require.Error(t, err)
}

func TestT_ToType(t *testing.T) {
	require.Equal(t, int32(1), T_int8.ToType().Size)
	require.Equal(t, int32(2), T_int16.ToType().Size)
	require.Equal(t, int32(4), T_int32.ToType().Size)
	require.Equal(t, int32(8), T_int64.ToType().Size)
	require.True(t, T_int64.ToType().Eq(T_int64.ToType()))
	require.True(t, T_varchar.IsVarlen())
	require.Equal(t, -1, T_json.FixedLength())
}

func checkOrder(t *testing.T, typ T, vals []any) {
	encoded := make([][]byte, 0, len(vals))
	for _, v := range vals {
		buf, err := EncodeValue(v, typ)
		require.NoError(t, err)
		dec, err := DecodeValue(buf, typ)
		require.NoError(t, err)
		require.Equal(t, v, dec)
		encoded = append(encoded, buf)
	}
	require.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}), "%s", typ)
	for i := 1; i < len(encoded); i++ {
		require.Equal(t, -1, CompareValue(encoded[i-1], encoded[i]))
	}
}

func TestEncodeValueOrder(t *testing.T) {
	checkOrder(t, T_int8, []any{int8(math.MinInt8), int8(-1), int8(0), int8(1), int8(math.MaxInt8)})
	checkOrder(t, T_int16, []any{int16(math.MinInt16), int16(-300), int16(0), int16(300), int16(math.MaxInt16)})
	checkOrder(t, T_int32, []any{int32(math.MinInt32), int32(-70000), int32(0), int32(70000), int32(math.MaxInt32)})
	checkOrder(t, T_int64, []any{int64(math.MinInt64), int64(-1), int64(0), int64(1 << 40), int64(math.MaxInt64)})
	checkOrder(t, T_uint16, []any{uint16(0), uint16(1), uint16(256), uint16(math.MaxUint16)})
	checkOrder(t, T_uint64, []any{uint64(0), uint64(1), uint64(math.MaxUint64)})
	checkOrder(t, T_float64, []any{math.Inf(-1), -1.5, -0.25, 0.0, 0.25, 1.5, math.Inf(1)})
	checkOrder(t, T_float32, []any{float32(-3.5), float32(-1), float32(0), float32(2.25)})
	checkOrder(t, T_date, []any{Date(-10), Date(0), Date(19000)})
	checkOrder(t, T_datetime, []any{Datetime(-1), Datetime(0), Datetime(1 << 50)})
	checkOrder(t, T_decimal64, []any{Decimal64(-100), Decimal64(5)})
	checkOrder(t, T_bool, []any{false, true})
	checkOrder(t, T_varchar, []any{"", "a", "ab", "b"})
}

func TestEncodeValueErrors(t *testing.T) {
	_, err := EncodeValue("x", T_int32)
	require.Error(t, err)
	_, err = EncodeValue(1, T_any)
	require.Error(t, err)
	_, err = DecodeValue([]byte{1, 2}, T_int64)
	require.Error(t, err)

	// untyped ints are accepted for every integer column
	buf, err := EncodeValue(7, T_int16)
	require.NoError(t, err)
	require.Equal(t, "7", FormatValue(buf, T_int16))
	require.Equal(t, "NULL", FormatValue(nil, T_int16))
}

func TestAppendKeyPart(t *testing.T) {
	k1 := AppendKeyPart(nil, []byte("87"), T_varchar)
	k2 := AppendKeyPart(nil, []byte("8700"), T_varchar)
	require.Equal(t, -1, bytes.Compare(k1, k2))

	// embedded zero bytes keep their order against the terminator
	k3 := AppendKeyPart(nil, []byte{'a', 0}, T_varchar)
	k4 := AppendKeyPart(nil, []byte{'a'}, T_varchar)
	require.Equal(t, 1, bytes.Compare(k3, k4))

	key := AppendKeyPart(k1, MustEncodeValue(int32(5), T_int32), T_int32)
	require.Equal(t, len(k1)+4, len(key))
}

func TestKeyPartLen(t *testing.T) {
	k := AppendKeyPart(nil, []byte{'a', 0, 'b'}, T_varchar)
	require.Equal(t, len(k), KeyPartLen(append(k, 0x7f), T_varchar))
	require.Equal(t, -1, KeyPartLen(k[:len(k)-1], T_varchar))
	require.Equal(t, 8, KeyPartLen(MustEncodeValue(int64(3), T_int64), T_int64))
	require.Equal(t, -1, KeyPartLen([]byte{1, 2}, T_int32))
}
