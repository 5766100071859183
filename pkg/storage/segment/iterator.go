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

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/container/batch"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/storage/delvector"
)

type IteratorOptions struct {
	// Columns lists the output columns by position, nil means all.
	Columns    []int
	Predicates []ColumnPredicate
	KeyRange   *KeyRange
	// DelVector masks deleted ordinals, nil deletes nothing.
	DelVector *delvector.DelVector
	ChunkSize int
}

// Stats counts what an iterator skipped.
type Stats struct {
	PagesTotal            int
	PagesShortKeyFiltered int
	PagesZoneMapFiltered  int
	PagesBloomFiltered    int
	PagesRead             int
	RowsDeleted           int
	RowsKeyRangeFiltered  int
	RowsPredicateFiltered int
	RowsReturned          int
}

type pendingPage struct {
	vecs map[int]*vector.Vector
	sels []int
	pos  int
}

// Iterator returns the rows of a segment that survive the key range,
// the predicates and the del vector, in ordinal order.
type Iterator struct {
	seg      *Segment
	opts     IteratorOptions
	outCols  []int
	readCols []int
	// ordinal range after the short key seek
	begin, end uint32
	pages      []int
	next       int
	pending    *pendingPage
	keyBuf     []byte
	stats      Stats
}

func (s *Segment) NewIterator(ctx context.Context, opts IteratorOptions) (*Iterator, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = config.DefaultVectorChunkSize
	}
	it := &Iterator{
		seg:  s,
		opts: opts,
		end:  s.NumRows(),
	}
	if opts.Columns == nil {
		it.outCols = make([]int, s.NumColumns())
		for i := range it.outCols {
			it.outCols[i] = i
		}
	} else {
		it.outCols = opts.Columns
	}
	read := make(map[int]struct{})
	for _, c := range it.outCols {
		if c < 0 || c >= s.NumColumns() {
			return nil, moerr.NewInvalidArg(ctx, "output column", c)
		}
		read[c] = struct{}{}
	}
	for i := range opts.Predicates {
		p := &opts.Predicates[i]
		if p.ColumnID < 0 || p.ColumnID >= s.NumColumns() {
			return nil, moerr.NewInvalidArg(ctx, "predicate column", p.ColumnID)
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		read[p.ColumnID] = struct{}{}
	}
	if opts.KeyRange != nil {
		if s.NumKeyColumns() == 0 {
			return nil, moerr.NewInvalidInput(ctx, "key range on segment %s without key", s.path)
		}
		for i := 0; i < s.NumKeyColumns(); i++ {
			read[i] = struct{}{}
		}
	}
	for i := 0; i < s.NumColumns(); i++ {
		if _, ok := read[i]; ok {
			it.readCols = append(it.readCols, i)
		}
	}
	if err := it.seek(ctx); err != nil {
		return nil, err
	}
	if err := it.selectPages(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

// seek narrows [begin, end) with the short key index. Samples are
// sparse, so the range starts at the sample before the first one not
// below the lower key.
func (it *Iterator) seek(ctx context.Context) error {
	kr := it.opts.KeyRange
	if kr == nil {
		return nil
	}
	sk, err := it.seg.ShortKeyIndex(ctx)
	if err != nil || sk == nil || sk.NumItems() == 0 {
		return err
	}
	maxBytes := int(it.seg.footer.ShortKeyMaxBytes)
	if kr.Lower != nil {
		// samples only hold the short key columns, compare on those alone
		lower := keyColumnsPrefix(kr.Lower, it.seg.Types(), int(it.seg.footer.NumShortKeyColumns))
		lower = truncateKey(lower, maxBytes)
		pos := sk.LowerBound(lower)
		if pos.Pos() > 0 {
			pos.Prev()
			it.begin = pos.Ordinal()
		}
	}
	if kr.Upper != nil {
		if succ := keySuccessor(truncateKey(kr.Upper, maxBytes)); succ != nil {
			pos := sk.LowerBound(succ)
			if pos.Valid() {
				it.end = pos.Ordinal()
			}
		}
	}
	if it.end < it.begin {
		it.end = it.begin
	}
	return nil
}

func (it *Iterator) selectPages(ctx context.Context) error {
	numPages := it.seg.NumPages()
	it.stats.PagesTotal = numPages
	for i := 0; i < numPages; i++ {
		begin, end := it.seg.pageRange(i)
		if end <= it.begin || begin >= it.end {
			it.stats.PagesShortKeyFiltered++
			continue
		}
		keep, err := it.pageMayMatch(ctx, i)
		if err != nil {
			return err
		}
		if keep {
			it.pages = append(it.pages, i)
		}
	}
	return nil
}

func (it *Iterator) pageMayMatch(ctx context.Context, i int) (bool, error) {
	for j := range it.opts.Predicates {
		p := &it.opts.Predicates[j]
		col := it.seg.Column(p.ColumnID)
		zm, err := col.ZoneMap(ctx)
		if err != nil {
			return false, err
		}
		if !p.MayMatchZone(zm.PageZoneMap(i)) {
			it.stats.PagesZoneMapFiltered++
			return false, nil
		}
		if !p.usesBloomFilter() {
			continue
		}
		bf, err := col.BloomFilter(ctx)
		if err != nil {
			return false, err
		}
		if bf != nil && !p.MayMatchBloom(bf, i) {
			it.stats.PagesBloomFiltered++
			return false, nil
		}
	}
	return true, nil
}

func (it *Iterator) Types() []types.T {
	typs := make([]types.T, len(it.outCols))
	for i, c := range it.outCols {
		typs[i] = it.seg.Column(c).Type()
	}
	return typs
}

func (it *Iterator) Stats() Stats {
	return it.stats
}

// Next returns up to ChunkSize rows, or OkExpectedEOF once the segment
// is exhausted.
func (it *Iterator) Next(ctx context.Context) (*batch.Chunk, error) {
	out := batch.NewChunk(it.Types())
	for out.Rows() < it.opts.ChunkSize {
		if it.pending == nil {
			if it.next >= len(it.pages) {
				break
			}
			p, err := it.readPage(ctx, it.pages[it.next])
			if err != nil {
				return nil, err
			}
			it.next++
			it.pending = p
		}
		p := it.pending
		for p.pos < len(p.sels) && out.Rows() < it.opts.ChunkSize {
			row := p.sels[p.pos]
			for i, c := range it.outCols {
				out.Vecs[i].UnionOne(p.vecs[c], row)
			}
			p.pos++
		}
		if p.pos == len(p.sels) {
			it.pending = nil
		}
	}
	if out.Rows() == 0 {
		return nil, moerr.GetOkExpectedEOF()
	}
	it.stats.RowsReturned += out.Rows()
	return out, nil
}

func (it *Iterator) readPage(ctx context.Context, i int) (*pendingPage, error) {
	p := &pendingPage{vecs: make(map[int]*vector.Vector, len(it.readCols))}
	for _, c := range it.readCols {
		v, err := it.seg.Column(c).ReadPage(ctx, i)
		if err != nil {
			return nil, err
		}
		p.vecs[c] = v
	}
	it.stats.PagesRead++
	begin, end := it.seg.pageRange(i)
	numKeys := it.seg.NumKeyColumns()
	var keyVecs []*vector.Vector
	if it.opts.KeyRange != nil {
		keyVecs = make([]*vector.Vector, numKeys)
		for k := 0; k < numKeys; k++ {
			keyVecs[k] = p.vecs[k]
		}
	}
	for ord := begin; ord < end; ord++ {
		row := int(ord - begin)
		if ord < it.begin || ord >= it.end {
			it.stats.RowsKeyRangeFiltered++
			continue
		}
		if it.opts.DelVector != nil && it.opts.DelVector.IsDeleted(ord) {
			it.stats.RowsDeleted++
			continue
		}
		if keyVecs != nil {
			it.keyBuf = EncodeKey(it.keyBuf[:0], keyVecs, numKeys, row)
			if !it.opts.KeyRange.Contains(it.keyBuf) {
				it.stats.RowsKeyRangeFiltered++
				continue
			}
		}
		if !it.evaluate(p.vecs, row) {
			it.stats.RowsPredicateFiltered++
			continue
		}
		p.sels = append(p.sels, row)
	}
	return p, nil
}

func (it *Iterator) evaluate(vecs map[int]*vector.Vector, row int) bool {
	for j := range it.opts.Predicates {
		pred := &it.opts.Predicates[j]
		if !pred.Evaluate(vecs[pred.ColumnID].Get(row)) {
			return false
		}
	}
	return true
}
