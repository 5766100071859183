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
	"context"
	"encoding/binary"
	"math"
	"strconv"

	"golang.org/x/exp/constraints"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// Values are stored in an order preserving byte form: comparing two encoded
// values of the same type with bytes.Compare gives the order of the values.
// Zone maps, short keys and merges all work on the encoded bytes.

const (
	keyEscape     byte = 0x00
	keyEscapedNul byte = 0xff
	keyTerminator byte = 0x01
)

func encodeSigned[V constraints.Signed](v V, size int) []byte {
	u := uint64(int64(v)) ^ (1 << (size*8 - 1))
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf[8-size:]
}

func decodeSigned[V constraints.Signed](b []byte, size int) V {
	var u uint64
	for i := 0; i < size; i++ {
		u = u<<8 | uint64(b[i])
	}
	u ^= 1 << (size*8 - 1)
	shift := 64 - size*8
	return V(int64(u<<shift) >> shift)
}

func encodeUnsigned[V constraints.Unsigned](v V, size int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf[8-size:]
}

func decodeUnsigned[V constraints.Unsigned](b []byte, size int) V {
	var u uint64
	for i := 0; i < size; i++ {
		u = u<<8 | uint64(b[i])
	}
	return V(u)
}

func encodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return encodeUnsigned(bits, 8)
}

func decodeFloat64(b []byte) float64 {
	bits := decodeUnsigned[uint64](b, 8)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func encodeFloat32(f float32) []byte {
	bits := math.Float32bits(f)
	if bits&(1<<31) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 31
	}
	return encodeUnsigned(bits, 4)
}

func decodeFloat32(b []byte) float32 {
	bits := decodeUnsigned[uint32](b, 4)
	if bits&(1<<31) != 0 {
		bits &^= 1 << 31
	} else {
		bits = ^bits
	}
	return math.Float32frombits(bits)
}

func toInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case Date:
		return int64(v), true
	case Datetime:
		return int64(v), true
	case Decimal64:
		return int64(v), true
	}
	return 0, false
}

func toUint64(val any) (uint64, bool) {
	switch v := val.(type) {
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func toFloat64(val any) (float64, bool) {
	switch v := val.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// EncodeValue converts a go value into the order preserving form of t.
func EncodeValue(val any, t T) ([]byte, error) {
	switch t {
	case T_bool:
		if b, ok := val.(bool); ok {
			if b {
				return []byte{1}, nil
			}
			return []byte{0}, nil
		}
	case T_int8, T_int16, T_int32, T_int64, T_date, T_datetime, T_decimal64:
		if v, ok := toInt64(val); ok {
			return encodeSigned(v, t.FixedLength()), nil
		}
	case T_uint8, T_uint16, T_uint32, T_uint64:
		if v, ok := toUint64(val); ok {
			return encodeUnsigned(v, t.FixedLength()), nil
		}
	case T_float32:
		if v, ok := toFloat64(val); ok {
			return encodeFloat32(float32(v)), nil
		}
	case T_float64:
		if v, ok := toFloat64(val); ok {
			return encodeFloat64(v), nil
		}
	case T_char, T_varchar, T_json:
		switch v := val.(type) {
		case string:
			return append(make([]byte, 0, len(v)), v...), nil
		case []byte:
			return append(make([]byte, 0, len(v)), v...), nil
		}
	default:
		return nil, moerr.NewNotSupported(context.TODO(), "encode value of type %s", t)
	}
	return nil, moerr.NewInvalidInput(context.TODO(), "value %v is not a %s", val, t)
}

// MustEncodeValue is EncodeValue for literals known to be valid.
func MustEncodeValue(val any, t T) []byte {
	buf, err := EncodeValue(val, t)
	if err != nil {
		panic(err)
	}
	return buf
}

func DecodeValue(val []byte, t T) (any, error) {
	if n := t.FixedLength(); n > 0 && len(val) != n {
		return nil, moerr.NewCorruption(context.TODO(), "%s value has %d bytes, expect %d", t, len(val), n)
	}
	switch t {
	case T_bool:
		return val[0] != 0, nil
	case T_int8:
		return decodeSigned[int8](val, 1), nil
	case T_int16:
		return decodeSigned[int16](val, 2), nil
	case T_int32:
		return decodeSigned[int32](val, 4), nil
	case T_int64:
		return decodeSigned[int64](val, 8), nil
	case T_date:
		return Date(decodeSigned[int32](val, 4)), nil
	case T_datetime:
		return Datetime(decodeSigned[int64](val, 8)), nil
	case T_decimal64:
		return Decimal64(decodeSigned[int64](val, 8)), nil
	case T_uint8:
		return decodeUnsigned[uint8](val, 1), nil
	case T_uint16:
		return decodeUnsigned[uint16](val, 2), nil
	case T_uint32:
		return decodeUnsigned[uint32](val, 4), nil
	case T_uint64:
		return decodeUnsigned[uint64](val, 8), nil
	case T_float32:
		return decodeFloat32(val), nil
	case T_float64:
		return decodeFloat64(val), nil
	case T_char, T_varchar, T_json:
		return string(val), nil
	}
	return nil, moerr.NewNotSupported(context.TODO(), "decode value of type %s", t)
}

func CompareValue(a, b []byte) int {
	return bytes.Compare(a, b)
}

// FormatValue renders an encoded value for logs and tools.
func FormatValue(val []byte, t T) string {
	if val == nil {
		return "NULL"
	}
	v, err := DecodeValue(val, t)
	if err != nil {
		return strconv.Quote(string(val))
	}
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	i, ok := toInt64(v)
	if ok {
		return strconv.FormatInt(i, 10)
	}
	u, _ := toUint64(v)
	return strconv.FormatUint(u, 10)
}

// AppendKeyPart appends one encoded column value to a composite key. Variable
// length values get their zero bytes escaped and a terminator appended, so a
// shorter string still sorts before any of its extensions.
func AppendKeyPart(dst []byte, val []byte, t T) []byte {
	if !t.IsVarlen() {
		return append(dst, val...)
	}
	for _, b := range val {
		if b == keyEscape {
			dst = append(dst, keyEscape, keyEscapedNul)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, keyEscape, keyTerminator)
}

// KeyPartLen returns how many leading bytes of key belong to one key part
// of type t, -1 when key ends inside it.
func KeyPartLen(key []byte, t T) int {
	if !t.IsVarlen() {
		if n := t.FixedLength(); n <= len(key) {
			return n
		}
		return -1
	}
	for i := 0; i+1 < len(key); i++ {
		if key[i] != keyEscape {
			continue
		}
		if key[i+1] == keyTerminator {
			return i + 2
		}
		i++
	}
	return -1
}
