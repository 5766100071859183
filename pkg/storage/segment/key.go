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

package segment

import (
	"bytes"

	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
)

const (
	keyNullMarker   byte = 0x00
	keyNormalMarker byte = 0x01
)

// AppendKeyColumn appends one column of a composite row key. Nulls sort
// before every value.
func AppendKeyColumn(dst []byte, val []byte, t types.T) []byte {
	if val == nil {
		return append(dst, keyNullMarker)
	}
	dst = append(dst, keyNormalMarker)
	return types.AppendKeyPart(dst, val, t)
}

// EncodeKey builds the composite key of row from the first n vectors.
func EncodeKey(dst []byte, vecs []*vector.Vector, n int, row int) []byte {
	for i := 0; i < n; i++ {
		dst = AppendKeyColumn(dst, vecs[i].Get(row), vecs[i].Typ())
	}
	return dst
}

// EncodeKeyValues builds a key prefix from plain values, one per leading
// key column. A nil value stands for null.
func EncodeKeyValues(typs []types.T, vals ...any) ([]byte, error) {
	var key []byte
	for i, v := range vals {
		if v == nil {
			key = AppendKeyColumn(key, nil, typs[i])
			continue
		}
		enc, err := types.EncodeValue(v, typs[i])
		if err != nil {
			return nil, err
		}
		key = AppendKeyColumn(key, enc, typs[i])
	}
	return key, nil
}

// keyColumnsPrefix returns the leading bytes of key that hold its first n
// columns, the whole key when it has fewer.
func keyColumnsPrefix(key []byte, typs []types.T, n int) []byte {
	off := 0
	for i := 0; i < n && i < len(typs) && off < len(key); i++ {
		if key[off] == keyNullMarker {
			off++
			continue
		}
		l := types.KeyPartLen(key[off+1:], typs[i])
		if l < 0 {
			return key
		}
		off += 1 + l
	}
	return key[:off]
}

func truncateKey(key []byte, maxBytes int) []byte {
	if maxBytes > 0 && len(key) > maxBytes {
		return key[:maxBytes]
	}
	return key
}

// keySuccessor returns the smallest key greater than every key prefixed
// by k, nil when there is none.
func keySuccessor(k []byte) []byte {
	end := append([]byte(nil), k...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// KeyRange selects rows by their composite key. Lower is an inclusive
// bound, Upper matches every key whose leading len(Upper) bytes do not
// exceed it, so a key prefix bounds all of its extensions. A nil bound is
// open.
type KeyRange struct {
	Lower []byte
	Upper []byte
}

func (r *KeyRange) Contains(key []byte) bool {
	if r.Lower != nil && bytes.Compare(key, r.Lower) < 0 {
		return false
	}
	if r.Upper != nil {
		prefix := key
		if len(prefix) > len(r.Upper) {
			prefix = prefix[:len(r.Upper)]
		}
		if bytes.Compare(prefix, r.Upper) > 0 {
			return false
		}
	}
	return true
}
