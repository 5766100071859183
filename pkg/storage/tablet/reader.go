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
	"bytes"
	"container/heap"
	"context"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/container/batch"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
)

type ReaderParams struct {
	ChunkSize int
	// Columns lists the output columns by schema position, nil means all.
	Columns    []int
	Predicates []segment.ColumnPredicate
	KeyRange   *segment.KeyRange
	// SortedMerge returns rows ordered by key across segments. Rows with
	// equal keys come in rowset version order.
	SortedMerge bool
}

// Reader reads the rows of a consistent set of rowsets of a tablet.
type Reader struct {
	tablet  *Tablet
	version int64
	rowsets []*rowset.Rowset

	params   ReaderParams
	readCols []int
	// outPos maps output columns to positions in readCols.
	outPos []int
	typs   []types.T
	iters  []*segment.Iterator
	cur    int

	merge  *mergeHeap
	keyBuf []byte
	stats  segment.Stats
	opened bool
}

// NewReader reads tablet t as of version.
func NewReader(t *Tablet, version int64) *Reader {
	return &Reader{tablet: t, version: version}
}

// NewRowsetReader reads the given rowsets of t, with every deletion
// visible at version applied.
func NewRowsetReader(t *Tablet, rowsets []*rowset.Rowset, version int64) *Reader {
	return &Reader{tablet: t, version: version, rowsets: rowsets}
}

// Prepare captures the rowsets covering [0, version] unless the reader
// was built with explicit rowsets.
func (r *Reader) Prepare(ctx context.Context) error {
	if r.rowsets != nil {
		return nil
	}
	rowsets, err := r.tablet.CaptureConsistentRowsets(ctx, rowset.Version{Start: 0, End: r.version})
	if err != nil {
		return err
	}
	r.rowsets = rowsets
	return nil
}

func (r *Reader) Rowsets() []*rowset.Rowset {
	return r.rowsets
}

// Open builds one iterator per segment.
func (r *Reader) Open(ctx context.Context, params ReaderParams) error {
	if r.opened {
		return moerr.NewInvalidState(ctx, "reader of %s is already open", r.tablet)
	}
	if params.ChunkSize <= 0 {
		params.ChunkSize = config.DefaultVectorChunkSize
	}
	schema := r.tablet.Schema()
	nk := schema.NumKeyColumns()
	if params.SortedMerge && nk == 0 {
		return moerr.NewInvalidInput(ctx, "sorted merge on %s without key", r.tablet)
	}
	out := params.Columns
	if out == nil {
		out = make([]int, schema.NumColumns())
		for i := range out {
			out[i] = i
		}
	}
	need := make([]bool, schema.NumColumns())
	for _, c := range out {
		if c < 0 || c >= len(need) {
			return moerr.NewInvalidArg(ctx, "output column", c)
		}
		need[c] = true
	}
	if params.SortedMerge {
		for i := 0; i < nk; i++ {
			need[i] = true
		}
	}
	pos := make([]int, len(need))
	for i, ok := range need {
		if ok {
			pos[i] = len(r.readCols)
			r.readCols = append(r.readCols, i)
		}
	}
	r.outPos = make([]int, len(out))
	allTypes := schema.Types()
	for i, c := range out {
		r.outPos[i] = pos[c]
		r.typs = append(r.typs, allTypes[c])
	}
	r.params = params

	for _, rs := range r.rowsets {
		meta := rs.Meta()
		for i := 0; i < rs.NumSegments(); i++ {
			seg, err := rs.Segment(ctx, i)
			if err != nil {
				return err
			}
			dv, err := r.tablet.DelVector(ctx, meta.SegmentID(i), r.version)
			if err != nil {
				return err
			}
			it, err := seg.NewIterator(ctx, segment.IteratorOptions{
				Columns:    r.readCols,
				Predicates: params.Predicates,
				KeyRange:   params.KeyRange,
				DelVector:  dv,
				ChunkSize:  params.ChunkSize,
			})
			if err != nil {
				return err
			}
			r.iters = append(r.iters, it)
		}
	}
	if params.SortedMerge {
		r.merge = &mergeHeap{}
		for i, it := range r.iters {
			c := &cursor{idx: i, it: it}
			ok, err := r.advance(ctx, c)
			if err != nil {
				return err
			}
			if ok {
				r.merge.items = append(r.merge.items, c)
			}
		}
		heap.Init(r.merge)
	}
	r.opened = true
	return nil
}

func (r *Reader) Types() []types.T {
	return r.typs
}

// GetNext returns the next chunk of at most ChunkSize rows, or
// OkExpectedEOF when every segment is exhausted.
func (r *Reader) GetNext(ctx context.Context) (*batch.Chunk, error) {
	if !r.opened {
		return nil, moerr.NewInvalidState(ctx, "reader of %s is not open", r.tablet)
	}
	if r.params.SortedMerge {
		return r.nextMerged(ctx)
	}
	for r.cur < len(r.iters) {
		c, err := r.iters[r.cur].Next(ctx)
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			r.addStats(r.iters[r.cur].Stats())
			r.cur++
			continue
		}
		if err != nil {
			return nil, err
		}
		return r.project(c), nil
	}
	return nil, moerr.GetOkExpectedEOF()
}

func (r *Reader) project(c *batch.Chunk) *batch.Chunk {
	out := &batch.Chunk{Vecs: make([]*vector.Vector, len(r.outPos))}
	for i, p := range r.outPos {
		out.Vecs[i] = c.Vecs[p]
	}
	return out
}

// Stats sums the statistics of exhausted segment iterators.
func (r *Reader) Stats() segment.Stats {
	return r.stats
}

func (r *Reader) addStats(s segment.Stats) {
	r.stats.PagesTotal += s.PagesTotal
	r.stats.PagesShortKeyFiltered += s.PagesShortKeyFiltered
	r.stats.PagesZoneMapFiltered += s.PagesZoneMapFiltered
	r.stats.PagesBloomFiltered += s.PagesBloomFiltered
	r.stats.PagesRead += s.PagesRead
	r.stats.RowsDeleted += s.RowsDeleted
	r.stats.RowsKeyRangeFiltered += s.RowsKeyRangeFiltered
	r.stats.RowsPredicateFiltered += s.RowsPredicateFiltered
	r.stats.RowsReturned += s.RowsReturned
}

type cursor struct {
	idx   int
	it    *segment.Iterator
	chunk *batch.Chunk
	row   int
	key   []byte
}

// advance moves c to its next row, loading a chunk when needed. It
// reports false once the iterator is exhausted.
func (r *Reader) advance(ctx context.Context, c *cursor) (bool, error) {
	c.row++
	for c.chunk == nil || c.row >= c.chunk.Rows() {
		chunk, err := c.it.Next(ctx)
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			r.addStats(c.it.Stats())
			return false, nil
		}
		if err != nil {
			return false, err
		}
		c.chunk, c.row = chunk, 0
	}
	c.key = segment.EncodeKey(c.key[:0], c.chunk.Vecs, r.tablet.Schema().NumKeyColumns(), c.row)
	return true, nil
}

func (r *Reader) nextMerged(ctx context.Context) (*batch.Chunk, error) {
	out := batch.NewChunk(r.typs)
	for out.Rows() < r.params.ChunkSize && r.merge.Len() > 0 {
		c := r.merge.items[0]
		for i, p := range r.outPos {
			out.Vecs[i].UnionOne(c.chunk.Vecs[p], c.row)
		}
		ok, err := r.advance(ctx, c)
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Fix(r.merge, 0)
		} else {
			heap.Pop(r.merge)
		}
	}
	if out.Rows() == 0 {
		return nil, moerr.GetOkExpectedEOF()
	}
	return out, nil
}

type mergeHeap struct {
	items []*cursor
}

func (h *mergeHeap) Len() int {
	return len(h.items)
}

func (h *mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h.items[i].key, h.items[j].key); c != 0 {
		return c < 0
	}
	return h.items[i].idx < h.items[j].idx
}

func (h *mergeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *mergeHeap) Push(x any) {
	h.items = append(h.items, x.(*cursor))
}

func (h *mergeHeap) Pop() any {
	n := len(h.items)
	c := h.items[n-1]
	h.items = h.items[:n-1]
	return c
}
