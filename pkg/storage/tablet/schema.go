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

package tablet

import (
	"context"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
)

type Column struct {
	UniqueID uint32
	Name     string
	Type     types.T
	IsKey    bool
	Nullable bool
	// Length is the declared length of char and varchar columns.
	Length      int
	BloomFilter bool
}

// Schema lists the columns of a tablet, key columns first.
type Schema struct {
	Columns            []Column
	NumShortKeyColumns int
	// ShortKeyMaxBytes truncates short keys, 0 keeps them whole.
	ShortKeyMaxBytes int
}

func (s *Schema) NumColumns() int {
	return len(s.Columns)
}

func (s *Schema) NumKeyColumns() int {
	n := 0
	for _, col := range s.Columns {
		if !col.IsKey {
			break
		}
		n++
	}
	return n
}

func (s *Schema) Types() []types.T {
	typs := make([]types.T, len(s.Columns))
	for i, col := range s.Columns {
		typs[i] = col.Type
	}
	return typs
}

func (s *Schema) KeyTypes() []types.T {
	return s.Types()[:s.NumKeyColumns()]
}

// ColumnIndex returns the position of a named column, -1 if absent.
func (s *Schema) ColumnIndex(name string) int {
	for i, col := range s.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// IsSupportChecksum tells whether column i takes part in a checksum.
// Json values have no canonical byte form.
func (s *Schema) IsSupportChecksum(i int) bool {
	return s.Columns[i].Type != types.T_json
}

// ChecksumColumns lists the positions of every checksum eligible column.
func (s *Schema) ChecksumColumns() []int {
	var cols []int
	for i := range s.Columns {
		if s.IsSupportChecksum(i) {
			cols = append(cols, i)
		}
	}
	return cols
}

func (s *Schema) Validate() error {
	ctx := context.TODO()
	if len(s.Columns) == 0 {
		return moerr.NewInvalidInput(ctx, "schema without columns")
	}
	names := make(map[string]struct{}, len(s.Columns))
	ids := make(map[uint32]struct{}, len(s.Columns))
	nk := s.NumKeyColumns()
	for i, col := range s.Columns {
		if !col.Type.IsValid() {
			return moerr.NewInvalidInput(ctx, "column %s has invalid type %d", col.Name, col.Type)
		}
		if col.IsKey && i >= nk {
			return moerr.NewInvalidInput(ctx, "key column %s follows a value column", col.Name)
		}
		if _, ok := names[col.Name]; ok {
			return moerr.NewDuplicate(ctx, "column name %s", col.Name)
		}
		if _, ok := ids[col.UniqueID]; ok {
			return moerr.NewDuplicate(ctx, "column unique id %d", col.UniqueID)
		}
		names[col.Name] = struct{}{}
		ids[col.UniqueID] = struct{}{}
	}
	if s.NumShortKeyColumns < 0 || s.NumShortKeyColumns > nk {
		return moerr.NewInvalidInput(ctx, "%d short key columns with %d key columns", s.NumShortKeyColumns, nk)
	}
	if s.ShortKeyMaxBytes < 0 {
		return moerr.NewInvalidInput(ctx, "negative short key max bytes")
	}
	return nil
}

// SegmentOptions sets the column layout of base for this schema.
func (s *Schema) SegmentOptions(base segment.WriterOptions) segment.WriterOptions {
	base.Columns = make([]segment.ColumnSpec, len(s.Columns))
	for i, col := range s.Columns {
		base.Columns[i] = segment.ColumnSpec{
			UniqueID:    col.UniqueID,
			Type:        col.Type,
			BloomFilter: col.BloomFilter,
		}
	}
	base.NumKeyColumns = s.NumKeyColumns()
	base.NumShortKeyColumns = s.NumShortKeyColumns
	base.ShortKeyMaxBytes = s.ShortKeyMaxBytes
	return base
}

const (
	fieldColumnUniqueID = iota + 1
	fieldColumnName
	fieldColumnType
	fieldColumnIsKey
	fieldColumnNullable
	fieldColumnLength
	fieldColumnBloomFilter
)

const (
	fieldSchemaColumn = iota + 1
	fieldSchemaNumShortKeyColumns
	fieldSchemaShortKeyMaxBytes
)

func (s *Schema) encoder() *encoding.Encoder {
	e := encoding.NewEncoder()
	for _, col := range s.Columns {
		e.Message(fieldSchemaColumn, encoding.NewEncoder().
			Uint64(fieldColumnUniqueID, uint64(col.UniqueID)).
			String(fieldColumnName, col.Name).
			Uint64(fieldColumnType, uint64(col.Type)).
			Bool(fieldColumnIsKey, col.IsKey).
			Bool(fieldColumnNullable, col.Nullable).
			Int64(fieldColumnLength, int64(col.Length)).
			Bool(fieldColumnBloomFilter, col.BloomFilter))
	}
	return e.Uint64(fieldSchemaNumShortKeyColumns, uint64(s.NumShortKeyColumns)).
		Uint64(fieldSchemaShortKeyMaxBytes, uint64(s.ShortKeyMaxBytes))
}

func unmarshalColumn(data []byte) (Column, error) {
	var col Column
	d := encoding.NewDecoder("column schema", data)
	for d.Next() {
		switch d.Field() {
		case fieldColumnUniqueID:
			col.UniqueID = uint32(d.Uint64())
		case fieldColumnName:
			col.Name = d.String()
		case fieldColumnType:
			col.Type = types.T(d.Uint64())
		case fieldColumnIsKey:
			col.IsKey = d.Bool()
		case fieldColumnNullable:
			col.Nullable = d.Bool()
		case fieldColumnLength:
			col.Length = int(d.Int64())
		case fieldColumnBloomFilter:
			col.BloomFilter = d.Bool()
		default:
			d.Skip()
		}
	}
	return col, d.Err()
}

func (s *Schema) unmarshal(data []byte) error {
	*s = Schema{}
	d := encoding.NewDecoder("tablet schema", data)
	for d.Next() {
		switch d.Field() {
		case fieldSchemaColumn:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			col, err := unmarshalColumn(b)
			if err != nil {
				return err
			}
			s.Columns = append(s.Columns, col)
		case fieldSchemaNumShortKeyColumns:
			s.NumShortKeyColumns = int(d.Uint64())
		case fieldSchemaShortKeyMaxBytes:
			s.ShortKeyMaxBytes = int(d.Uint64())
		default:
			d.Skip()
		}
	}
	return d.Err()
}
