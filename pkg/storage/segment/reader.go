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
	"context"
	"encoding/binary"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/storage/index"
	"github.com/matrixorigin/colstore/pkg/storage/page"
)

// Segment is an opened segment file. Index readers are created with it
// but load on first use.
type Segment struct {
	fs       fileservice.FileService
	path     string
	size     int64
	footer   Footer
	cols     []*ColumnReader
	shortKey *index.ShortKeyReader
}

// Open reads and validates the footer of the segment at path.
func Open(ctx context.Context, fs fileservice.FileService, path string) (*Segment, error) {
	entry, err := fs.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	size := entry.Size
	if size < TailSize {
		return nil, moerr.NewCorruption(ctx, "segment %s of %d bytes is truncated", path, size)
	}
	tail, err := fileservice.ReadAt(ctx, fs, path, size-TailSize, TailSize)
	if err != nil {
		return nil, err
	}
	if magic := binary.LittleEndian.Uint32(tail[4:]); magic != Magic {
		return nil, moerr.NewCorruption(ctx, "segment %s has bad magic %08x", path, magic)
	}
	footerSize := int64(binary.LittleEndian.Uint32(tail[0:]))
	if footerSize > size-TailSize {
		return nil, moerr.NewCorruption(ctx, "segment %s footer size %d exceeds file size %d", path, footerSize, size)
	}
	data, err := fileservice.ReadAt(ctx, fs, path, size-TailSize-footerSize, footerSize)
	if err != nil {
		return nil, err
	}
	raw, err := page.DecodeExpect(page.TypeFooter, data)
	if err != nil {
		return nil, err
	}
	s := &Segment{
		fs:   fs,
		path: path,
		size: size,
	}
	if err := s.footer.Unmarshal(raw); err != nil {
		return nil, err
	}
	if s.footer.Version != FormatV1 {
		return nil, moerr.NewNotSupported(ctx, "segment %s format version %d", path, s.footer.Version)
	}
	numPages := s.footer.NumPages()
	s.cols = make([]*ColumnReader, len(s.footer.Columns))
	for i := range s.footer.Columns {
		meta := &s.footer.Columns[i]
		if len(meta.DataPages) != numPages {
			return nil, moerr.NewCorruption(ctx, "segment %s column %d has %d pages, expected %d",
				path, i, len(meta.DataPages), numPages)
		}
		s.cols[i] = &ColumnReader{
			seg:  s,
			meta: meta,
			zm:   index.NewZoneMapReader(),
		}
		if meta.HasBloom {
			s.cols[i].bf = index.NewBloomFilterReader()
		}
	}
	if s.footer.HasShortKey {
		s.shortKey = index.NewShortKeyReader()
	}
	return s, nil
}

func (s *Segment) Path() string {
	return s.path
}

func (s *Segment) Size() int64 {
	return s.size
}

func (s *Segment) NumRows() uint32 {
	return s.footer.NumRows
}

func (s *Segment) NumPages() int {
	return s.footer.NumPages()
}

func (s *Segment) PageRows() uint32 {
	return s.footer.PageRows
}

func (s *Segment) NumColumns() int {
	return len(s.cols)
}

func (s *Segment) NumKeyColumns() int {
	return int(s.footer.NumKeyColumns)
}

func (s *Segment) Footer() *Footer {
	return &s.footer
}

func (s *Segment) Column(i int) *ColumnReader {
	return s.cols[i]
}

func (s *Segment) Types() []types.T {
	typs := make([]types.T, len(s.cols))
	for i, col := range s.cols {
		typs[i] = col.meta.Type
	}
	return typs
}

// pageRange is the ordinal range [begin, end) covered by data page i.
func (s *Segment) pageRange(i int) (uint32, uint32) {
	begin := uint32(i) * s.footer.PageRows
	end := begin + s.footer.PageRows
	if end > s.footer.NumRows {
		end = s.footer.NumRows
	}
	return begin, end
}

func (s *Segment) loadOptions() index.LoadOptions {
	return index.LoadOptions{FS: s.fs, Path: s.path}
}

// ShortKeyIndex loads the short key index, nil when the segment has none.
func (s *Segment) ShortKeyIndex(ctx context.Context) (*index.ShortKeyReader, error) {
	if s.shortKey == nil {
		return nil, nil
	}
	if _, err := s.shortKey.Load(ctx, s.loadOptions(), s.footer.ShortKey); err != nil {
		return nil, err
	}
	return s.shortKey, nil
}

// PreloadIndexes loads every index of the segment.
func (s *Segment) PreloadIndexes(ctx context.Context) error {
	if _, err := s.ShortKeyIndex(ctx); err != nil {
		return err
	}
	for _, col := range s.cols {
		if _, err := col.ZoneMap(ctx); err != nil {
			return err
		}
		if _, err := col.BloomFilter(ctx); err != nil {
			return err
		}
	}
	return nil
}

type ColumnReader struct {
	seg  *Segment
	meta *ColumnMeta
	zm   *index.ZoneMapReader
	bf   *index.BloomFilterReader
}

func (c *ColumnReader) Meta() *ColumnMeta {
	return c.meta
}

func (c *ColumnReader) Type() types.T {
	return c.meta.Type
}

// NDV is the estimated number of distinct non null values.
func (c *ColumnReader) NDV() uint64 {
	return c.meta.NDVEstimate
}

func (c *ColumnReader) ZoneMap(ctx context.Context) (*index.ZoneMapReader, error) {
	if _, err := c.zm.Load(ctx, c.seg.loadOptions(), c.meta.ZoneMap); err != nil {
		return nil, err
	}
	return c.zm, nil
}

// BloomFilter loads the bloom filter index, nil when the column has none.
func (c *ColumnReader) BloomFilter(ctx context.Context) (*index.BloomFilterReader, error) {
	if c.bf == nil {
		return nil, nil
	}
	if _, err := c.bf.Load(ctx, c.seg.loadOptions(), c.meta.Bloom); err != nil {
		return nil, err
	}
	return c.bf, nil
}

// ReadPage reads and decodes data page i.
func (c *ColumnReader) ReadPage(ctx context.Context, i int) (*vector.Vector, error) {
	if i < 0 || i >= len(c.meta.DataPages) {
		return nil, moerr.NewInvalidArg(ctx, "page index", i)
	}
	pp := c.meta.DataPages[i]
	data, err := fileservice.ReadAt(ctx, c.seg.fs, c.seg.path, int64(pp.Offset), int64(pp.Size))
	if err != nil {
		return nil, err
	}
	raw, err := page.DecodeExpect(page.TypeData, data)
	if err != nil {
		return nil, moerr.AttachCause(moerr.NewCorruption(ctx, "segment %s page %d", c.seg.path, i), err)
	}
	v, err := decodeDataPage(c.meta.Type, raw)
	if err != nil {
		return nil, err
	}
	begin, end := c.seg.pageRange(i)
	if v.Length() != int(end-begin) {
		return nil, moerr.NewCorruption(ctx, "segment %s page %d has %d rows, expected %d",
			c.seg.path, i, v.Length(), end-begin)
	}
	return v, nil
}
