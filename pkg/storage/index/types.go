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
	"context"
	"fmt"

	"github.com/gogo/protobuf/proto"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/storage/page"
)

type IndexType uint8

const (
	ZoneMapIndex IndexType = iota + 1
	BloomFilterIndex
	ShortKeyIndex
)

func (t IndexType) String() string {
	switch t {
	case ZoneMapIndex:
		return "zone map"
	case BloomFilterIndex:
		return "bloom filter"
	case ShortKeyIndex:
		return "short key"
	}
	return fmt.Sprintf("IndexType(%d)", uint8(t))
}

// PagePointer locates a page inside a file.
type PagePointer struct {
	Offset uint64
	Size   uint32
}

// AppendTo writes the pointer as two varints, offset then size.
func (p PagePointer) AppendTo(dst []byte) []byte {
	dst = append(dst, proto.EncodeVarint(p.Offset)...)
	return append(dst, proto.EncodeVarint(uint64(p.Size))...)
}

func (p PagePointer) Encode() []byte {
	return p.AppendTo(nil)
}

// DecodePagePointer reads a pointer from the head of data and returns the
// number of bytes consumed.
func DecodePagePointer(data []byte) (PagePointer, int, error) {
	offset, n1 := proto.DecodeVarint(data)
	if n1 == 0 {
		return PagePointer{}, 0, moerr.NewCorruption(context.TODO(), "malformed page pointer")
	}
	size, n2 := proto.DecodeVarint(data[n1:])
	if n2 == 0 || size > uint64(^uint32(0)) {
		return PagePointer{}, 0, moerr.NewCorruption(context.TODO(), "malformed page pointer")
	}
	return PagePointer{Offset: offset, Size: uint32(size)}, n1 + n2, nil
}

func (p PagePointer) String() string {
	return fmt.Sprintf("(offset=%d, size=%d)", p.Offset, p.Size)
}

// IndexMeta is written into the segment footer for every finished index,
// a reader needs it before loading anything.
type IndexMeta struct {
	Type     IndexType
	Page     PagePointer
	NumPages uint32
	// bloom filter only
	Algorithm    Algorithm
	HashStrategy HashStrategy
}

const (
	fieldIndexType = iota + 1
	fieldIndexPage
	fieldIndexNumPages
	fieldIndexAlgorithm
	fieldIndexHashStrategy
)

func (m *IndexMeta) Marshal() []byte {
	e := encoding.NewEncoder().
		Uint64(fieldIndexType, uint64(m.Type)).
		Bytes(fieldIndexPage, m.Page.Encode()).
		Uint64(fieldIndexNumPages, uint64(m.NumPages))
	if m.Type == BloomFilterIndex {
		e.Uint64(fieldIndexAlgorithm, uint64(m.Algorithm)).
			Uint64(fieldIndexHashStrategy, uint64(m.HashStrategy))
	}
	return e.Marshal()
}

func (m *IndexMeta) Unmarshal(data []byte) error {
	*m = IndexMeta{}
	d := encoding.NewDecoder("index meta", data)
	for d.Next() {
		switch d.Field() {
		case fieldIndexType:
			m.Type = IndexType(d.Uint64())
		case fieldIndexPage:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			pp, _, err := DecodePagePointer(b)
			if err != nil {
				return err
			}
			m.Page = pp
		case fieldIndexNumPages:
			m.NumPages = uint32(d.Uint64())
		case fieldIndexAlgorithm:
			m.Algorithm = Algorithm(d.Uint64())
		case fieldIndexHashStrategy:
			m.HashStrategy = HashStrategy(d.Uint64())
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// LoadOptions tells a reader where the index bytes live.
type LoadOptions struct {
	FS   fileservice.FileService
	Path string
}

// writeIndexPage appends one index page to fw and returns its pointer.
func writeIndexPage(fw *fileservice.FileWriter, codec compress.Codec, raw []byte) (PagePointer, error) {
	data, err := page.Encode(page.TypeIndex, codec, raw)
	if err != nil {
		return PagePointer{}, err
	}
	offset, err := fw.Append(data)
	if err != nil {
		return PagePointer{}, err
	}
	return PagePointer{Offset: uint64(offset), Size: uint32(len(data))}, nil
}

func readIndexPage(ctx context.Context, opts LoadOptions, meta IndexMeta, expected IndexType) ([]byte, error) {
	if meta.Type != expected {
		return nil, moerr.NewCorruption(ctx, "expect %s index meta, got %s", expected, meta.Type)
	}
	data, err := fileservice.ReadAt(ctx, opts.FS, opts.Path, int64(meta.Page.Offset), int64(meta.Page.Size))
	if err != nil {
		return nil, err
	}
	raw, err := page.DecodeExpect(page.TypeIndex, data)
	if err != nil {
		return nil, moerr.WithDetail(moerr.DowncastError(err), "%s index of %s at %s", expected, opts.Path, meta.Page)
	}
	return raw, nil
}
