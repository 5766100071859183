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
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/storage/index"
)

// A segment file ends with
//
//	| footer page | footer page size u32 | magic u32 |
//
// the footer page is a regular page of type footer.
const (
	Magic    uint32 = 0x47455343 // "CSEG"
	TailSize        = 8
	FormatV1 uint32 = 1
)

// ColumnMeta describes the pages and indexes of one column.
type ColumnMeta struct {
	UniqueID    uint32
	Type        types.T
	NullCount   uint64
	RawSize     uint64
	DataPages   []index.PagePointer
	ZoneMap     index.IndexMeta
	HasBloom    bool
	Bloom       index.IndexMeta
	NDVSketch   []byte
	NDVEstimate uint64
}

const (
	fieldColumnUniqueID = iota + 1
	fieldColumnType
	fieldColumnNullCount
	fieldColumnRawSize
	fieldColumnDataPage
	fieldColumnZoneMap
	fieldColumnBloom
	fieldColumnNDVSketch
	fieldColumnNDVEstimate
)

func (m *ColumnMeta) encoder() *encoding.Encoder {
	e := encoding.NewEncoder().
		Uint64(fieldColumnUniqueID, uint64(m.UniqueID)).
		Uint64(fieldColumnType, uint64(m.Type)).
		Uint64(fieldColumnNullCount, m.NullCount).
		Uint64(fieldColumnRawSize, m.RawSize)
	for _, pp := range m.DataPages {
		e.Bytes(fieldColumnDataPage, pp.Encode())
	}
	e.Bytes(fieldColumnZoneMap, m.ZoneMap.Marshal())
	if m.HasBloom {
		e.Bytes(fieldColumnBloom, m.Bloom.Marshal())
	}
	if len(m.NDVSketch) > 0 {
		e.Bytes(fieldColumnNDVSketch, m.NDVSketch)
	}
	return e.Uint64(fieldColumnNDVEstimate, m.NDVEstimate)
}

func (m *ColumnMeta) unmarshal(data []byte) error {
	*m = ColumnMeta{}
	d := encoding.NewDecoder("column meta", data)
	for d.Next() {
		switch d.Field() {
		case fieldColumnUniqueID:
			m.UniqueID = uint32(d.Uint64())
		case fieldColumnType:
			m.Type = types.T(d.Uint64())
		case fieldColumnNullCount:
			m.NullCount = d.Uint64()
		case fieldColumnRawSize:
			m.RawSize = d.Uint64()
		case fieldColumnDataPage:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			pp, _, err := index.DecodePagePointer(b)
			if err != nil {
				return err
			}
			m.DataPages = append(m.DataPages, pp)
		case fieldColumnZoneMap:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			if err := m.ZoneMap.Unmarshal(b); err != nil {
				return err
			}
		case fieldColumnBloom:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			if err := m.Bloom.Unmarshal(b); err != nil {
				return err
			}
			m.HasBloom = true
		case fieldColumnNDVSketch:
			m.NDVSketch = d.Bytes()
		case fieldColumnNDVEstimate:
			m.NDVEstimate = d.Uint64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// Footer is the descriptor of a whole segment file.
type Footer struct {
	Version            uint32
	NumRows            uint32
	PageRows           uint32
	NumKeyColumns      uint32
	NumShortKeyColumns uint32
	ShortKeyMaxBytes   uint32
	Columns            []ColumnMeta
	HasShortKey        bool
	ShortKey           index.IndexMeta
}

const (
	fieldFooterVersion = iota + 1
	fieldFooterNumRows
	fieldFooterPageRows
	fieldFooterNumKeyColumns
	fieldFooterNumShortKeyColumns
	fieldFooterShortKeyMaxBytes
	fieldFooterColumn
	fieldFooterShortKey
)

func (f *Footer) Marshal() []byte {
	e := encoding.NewEncoder().
		Uint64(fieldFooterVersion, uint64(f.Version)).
		Uint64(fieldFooterNumRows, uint64(f.NumRows)).
		Uint64(fieldFooterPageRows, uint64(f.PageRows)).
		Uint64(fieldFooterNumKeyColumns, uint64(f.NumKeyColumns)).
		Uint64(fieldFooterNumShortKeyColumns, uint64(f.NumShortKeyColumns)).
		Uint64(fieldFooterShortKeyMaxBytes, uint64(f.ShortKeyMaxBytes))
	for i := range f.Columns {
		e.Message(fieldFooterColumn, f.Columns[i].encoder())
	}
	if f.HasShortKey {
		e.Bytes(fieldFooterShortKey, f.ShortKey.Marshal())
	}
	return e.Marshal()
}

func (f *Footer) Unmarshal(data []byte) error {
	*f = Footer{}
	d := encoding.NewDecoder("segment footer", data)
	for d.Next() {
		switch d.Field() {
		case fieldFooterVersion:
			f.Version = uint32(d.Uint64())
		case fieldFooterNumRows:
			f.NumRows = uint32(d.Uint64())
		case fieldFooterPageRows:
			f.PageRows = uint32(d.Uint64())
		case fieldFooterNumKeyColumns:
			f.NumKeyColumns = uint32(d.Uint64())
		case fieldFooterNumShortKeyColumns:
			f.NumShortKeyColumns = uint32(d.Uint64())
		case fieldFooterShortKeyMaxBytes:
			f.ShortKeyMaxBytes = uint32(d.Uint64())
		case fieldFooterColumn:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			var col ColumnMeta
			if err := col.unmarshal(b); err != nil {
				return err
			}
			f.Columns = append(f.Columns, col)
		case fieldFooterShortKey:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			if err := f.ShortKey.Unmarshal(b); err != nil {
				return err
			}
			f.HasShortKey = true
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// NumPages is the number of data pages every column has.
func (f *Footer) NumPages() int {
	if f.NumRows == 0 || f.PageRows == 0 {
		return 0
	}
	return int((f.NumRows + f.PageRows - 1) / f.PageRows)
}
