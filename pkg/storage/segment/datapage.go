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
	"github.com/RoaringBitmap/roaring"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/encoding"
)

const (
	fieldPageNumRows = iota + 1
	fieldPageNulls
	fieldPageValue
)

// encodeDataPage serializes rows [start, start+count) of v. Null rows are
// listed in a bitmap and have no value entry.
func encodeDataPage(v *vector.Vector, start, count int) ([]byte, error) {
	e := encoding.NewEncoder().Uint64(fieldPageNumRows, uint64(count))
	var nulls *roaring.Bitmap
	for i := start; i < start+count; i++ {
		if v.IsNull(i) {
			if nulls == nil {
				nulls = roaring.New()
			}
			nulls.Add(uint32(i - start))
		}
	}
	if nulls != nil {
		data, err := nulls.ToBytes()
		if err != nil {
			return nil, moerr.NewInternalErrorNoCtx("serialize page nulls: %v", err)
		}
		e.Bytes(fieldPageNulls, data)
	}
	for i := start; i < start+count; i++ {
		if !v.IsNull(i) {
			e.Bytes(fieldPageValue, v.Get(i))
		}
	}
	return e.Marshal(), nil
}

func decodeDataPage(typ types.T, data []byte) (*vector.Vector, error) {
	var (
		numRows int
		nulls   *roaring.Bitmap
		values  [][]byte
	)
	d := encoding.NewDecoder("data page", data)
	for d.Next() {
		switch d.Field() {
		case fieldPageNumRows:
			numRows = int(d.Uint64())
		case fieldPageNulls:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			nulls = roaring.New()
			if err := nulls.UnmarshalBinary(b); err != nil {
				return nil, moerr.NewCorruptionNoCtx("malformed page nulls: %v", err)
			}
		case fieldPageValue:
			values = append(values, d.Bytes())
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	nullCount := 0
	if nulls != nil {
		nullCount = int(nulls.GetCardinality())
	}
	if nullCount+len(values) != numRows {
		return nil, moerr.NewCorruptionNoCtx("data page has %d rows but %d values and %d nulls",
			numRows, len(values), nullCount)
	}
	v := vector.NewWithCapacity(typ, numRows)
	next := 0
	for i := 0; i < numRows; i++ {
		if nulls != nil && nulls.Contains(uint32(i)) {
			v.AppendNull()
			continue
		}
		v.Append(values[next])
		next++
	}
	return v, nil
}
