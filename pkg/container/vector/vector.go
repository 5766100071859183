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

package vector

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/colstore/pkg/container/types"
)

// NullChecksum is folded into a checksum for every null row.
const NullChecksum uint64 = 0x9e3779b97f4a7c15

// Vector is a column of order preserving encoded values.
type Vector struct {
	typ   types.T
	data  [][]byte
	nulls *roaring.Bitmap
	size  int
}

func New(typ types.T) *Vector {
	return NewWithCapacity(typ, 0)
}

func NewWithCapacity(typ types.T, capacity int) *Vector {
	return &Vector{
		typ:   typ,
		data:  make([][]byte, 0, capacity),
		nulls: roaring.New(),
	}
}

func (v *Vector) Typ() types.T {
	return v.typ
}

func (v *Vector) Length() int {
	return len(v.data)
}

// Append adds an already encoded value.
func (v *Vector) Append(val []byte) {
	if val == nil {
		v.AppendNull()
		return
	}
	v.data = append(v.data, val)
	v.size += len(val)
}

func (v *Vector) AppendValue(val any) error {
	if val == nil {
		v.AppendNull()
		return nil
	}
	buf, err := types.EncodeValue(val, v.typ)
	if err != nil {
		return err
	}
	v.Append(buf)
	return nil
}

func (v *Vector) AppendNull() {
	v.nulls.Add(uint32(len(v.data)))
	v.data = append(v.data, nil)
}

// Get returns the encoded value of row i, nil when the row is null.
func (v *Vector) Get(i int) []byte {
	return v.data[i]
}

func (v *Vector) GetValue(i int) (any, error) {
	if v.IsNull(i) {
		return nil, nil
	}
	return types.DecodeValue(v.data[i], v.typ)
}

func (v *Vector) IsNull(i int) bool {
	return v.nulls.Contains(uint32(i))
}

func (v *Vector) HasNull() bool {
	return !v.nulls.IsEmpty()
}

func (v *Vector) NullCount() int {
	return int(v.nulls.GetCardinality())
}

func (v *Vector) Nulls() *roaring.Bitmap {
	return v.nulls
}

func (v *Vector) MemSize() int {
	return v.size + len(v.data)*24 + int(v.nulls.GetSizeInBytes())
}

func (v *Vector) Reset() {
	v.data = v.data[:0]
	v.nulls.Clear()
	v.size = 0
}

// UnionOne appends row i of src.
func (v *Vector) UnionOne(src *Vector, i int) {
	if src.IsNull(i) {
		v.AppendNull()
		return
	}
	v.Append(src.data[i])
}

// Window copies rows [start, end) into a new vector.
func (v *Vector) Window(start, end int) *Vector {
	w := NewWithCapacity(v.typ, end-start)
	for i := start; i < end; i++ {
		w.UnionOne(v, i)
	}
	return w
}

// Shrink keeps only the rows listed in sels, which must be ascending.
func (v *Vector) Shrink(sels []int64) {
	nulls := roaring.New()
	size := 0
	for i, sel := range sels {
		if v.nulls.Contains(uint32(sel)) {
			nulls.Add(uint32(i))
		}
		v.data[i] = v.data[sel]
		size += len(v.data[i])
	}
	for i := len(sels); i < len(v.data); i++ {
		v.data[i] = nil
	}
	v.data = v.data[:len(sels)]
	v.nulls = nulls
	v.size = size
}

// XorChecksum folds the hash of rows [start, start+n) with xor. The result
// does not depend on row order or on how rows are split into calls.
func (v *Vector) XorChecksum(start, n int) uint64 {
	var sum uint64
	for i := start; i < start+n; i++ {
		if v.IsNull(i) {
			sum ^= NullChecksum
			continue
		}
		sum ^= xxhash.Sum64(v.data[i])
	}
	return sum
}

func (v *Vector) Equal(o *Vector) bool {
	if v.typ != o.typ || len(v.data) != len(o.data) {
		return false
	}
	for i := range v.data {
		if v.IsNull(i) != o.IsNull(i) {
			return false
		}
		if !bytes.Equal(v.data[i], o.data[i]) {
			return false
		}
	}
	return true
}

func (v *Vector) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s[", v.typ)
	for i := range v.data {
		if i > 0 {
			buf.WriteByte(',')
		}
		if v.IsNull(i) {
			buf.WriteString("NULL")
			continue
		}
		buf.WriteString(types.FormatValue(v.data[i], v.typ))
	}
	buf.WriteByte(']')
	return buf.String()
}
