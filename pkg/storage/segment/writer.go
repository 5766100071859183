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
	"context"
	"encoding/binary"

	"github.com/axiomhq/hyperloglog"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/container/batch"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/index"
	"github.com/matrixorigin/colstore/pkg/storage/page"
)

type ColumnSpec struct {
	UniqueID    uint32
	Type        types.T
	BloomFilter bool
}

type WriterOptions struct {
	Columns []ColumnSpec
	// The leading NumKeyColumns columns form the sort key, rows must be
	// appended in key order.
	NumKeyColumns        int
	NumShortKeyColumns   int
	ShortKeyMaxBytes     int
	PageRows             int
	ShortKeyPageInterval int
	Codec                compress.Codec
	Bloom                index.BloomFilterOptions
}

// OptionsFromConfig fills the layout settings of cfg, the caller adds the
// columns and keys.
func OptionsFromConfig(cfg *config.StorageConfig) (WriterOptions, error) {
	codec, err := compress.ParseCodec(cfg.Compression)
	if err != nil {
		return WriterOptions{}, err
	}
	algo, err := index.ParseAlgorithm(cfg.BloomAlgorithm)
	if err != nil {
		return WriterOptions{}, err
	}
	hash, err := index.ParseHashStrategy(cfg.BloomHashStrategy)
	if err != nil {
		return WriterOptions{}, err
	}
	return WriterOptions{
		PageRows:             cfg.PageRows,
		ShortKeyPageInterval: cfg.ShortKeyPageInterval,
		Codec:                codec,
		Bloom: index.BloomFilterOptions{
			Algorithm:    algo,
			HashStrategy: hash,
			Fpp:          cfg.BloomFpp,
		},
	}, nil
}

func (o *WriterOptions) fillDefaults() {
	if o.PageRows <= 0 {
		o.PageRows = config.DefaultPageRows
	}
	if o.ShortKeyPageInterval <= 0 {
		o.ShortKeyPageInterval = config.DefaultShortKeyPageInterval
	}
	if o.Bloom.Algorithm == 0 {
		o.Bloom.Algorithm = index.BlockBloomFilter
	}
	if o.Bloom.HashStrategy == 0 {
		o.Bloom.HashStrategy = index.Murmur3Hash
	}
	if o.Bloom.Fpp == 0 {
		o.Bloom.Fpp = config.DefaultBloomFpp
	}
}

func (o *WriterOptions) validate() error {
	if len(o.Columns) == 0 {
		return moerr.NewInvalidArgNoCtx("segment columns", 0)
	}
	if o.NumKeyColumns < 0 || o.NumKeyColumns > len(o.Columns) {
		return moerr.NewInvalidArgNoCtx("num key columns", o.NumKeyColumns)
	}
	if o.NumShortKeyColumns < 0 || o.NumShortKeyColumns > o.NumKeyColumns {
		return moerr.NewInvalidArgNoCtx("num short key columns", o.NumShortKeyColumns)
	}
	for _, col := range o.Columns {
		if !col.Type.IsValid() {
			return moerr.NewInvalidArgNoCtx("column type", col.Type)
		}
	}
	return nil
}

type columnWriter struct {
	spec ColumnSpec
	page *vector.Vector
	zm   *index.ZoneMapWriter
	bf   *index.BloomFilterWriter
	ndv  *hyperloglog.Sketch
	meta ColumnMeta
}

func newColumnWriter(spec ColumnSpec, opts *WriterOptions) (*columnWriter, error) {
	cw := &columnWriter{
		spec: spec,
		page: vector.NewWithCapacity(spec.Type, opts.PageRows),
		zm:   index.NewZoneMapWriter(spec.Type),
		ndv:  hyperloglog.New(),
		meta: ColumnMeta{UniqueID: spec.UniqueID, Type: spec.Type},
	}
	if spec.BloomFilter {
		bf, err := index.NewBloomFilterWriter(opts.Bloom)
		if err != nil {
			return nil, err
		}
		cw.bf = bf
	}
	return cw, nil
}

func (cw *columnWriter) append(src *vector.Vector, start, count int) {
	for i := start; i < start+count; i++ {
		cw.page.UnionOne(src, i)
		if src.IsNull(i) {
			cw.meta.NullCount++
			continue
		}
		val := src.Get(i)
		cw.meta.RawSize += uint64(len(val))
		cw.ndv.Insert(val)
	}
}

func (cw *columnWriter) flushPage(fw *fileservice.FileWriter, codec compress.Codec) error {
	n := cw.page.Length()
	if n == 0 {
		return nil
	}
	raw, err := encodeDataPage(cw.page, 0, n)
	if err != nil {
		return err
	}
	data, err := page.Encode(page.TypeData, codec, raw)
	if err != nil {
		return err
	}
	offset, err := fw.Append(data)
	if err != nil {
		return err
	}
	cw.meta.DataPages = append(cw.meta.DataPages, index.PagePointer{
		Offset: uint64(offset),
		Size:   uint32(len(data)),
	})
	cw.zm.AddValues(cw.page, 0, n)
	cw.zm.Flush()
	if cw.bf != nil {
		cw.bf.AddValues(cw.page, 0, n)
		if err := cw.bf.Flush(); err != nil {
			return err
		}
	}
	cw.page = vector.NewWithCapacity(cw.spec.Type, n)
	return nil
}

func (cw *columnWriter) finishIndexes(fw *fileservice.FileWriter, codec compress.Codec) error {
	zm, err := cw.zm.Finish(fw, codec)
	if err != nil {
		return err
	}
	cw.meta.ZoneMap = zm
	if cw.bf != nil {
		bf, err := cw.bf.Finish(fw, codec)
		if err != nil {
			return err
		}
		cw.meta.Bloom = bf
		cw.meta.HasBloom = true
	}
	sketch, err := cw.ndv.MarshalBinary()
	if err != nil {
		return moerr.NewInternalErrorNoCtx("serialize ndv sketch: %v", err)
	}
	cw.meta.NDVSketch = sketch
	cw.meta.NDVEstimate = cw.ndv.Estimate()
	return nil
}

// WriteInfo sums up a finalized segment.
type WriteInfo struct {
	NumRows   int64
	DataSize  int64
	IndexSize int64
	TotalSize int64
}

// Writer builds one segment file. Rows are buffered into pages of
// PageRows rows per column, the file becomes visible on Finalize.
type Writer struct {
	opts     WriterOptions
	fw       *fileservice.FileWriter
	cols     []*columnWriter
	sk       *index.ShortKeyWriter
	numRows  uint32
	dataSize int64
	lastKey  []byte
	keyBuf   []byte
	done     bool
}

func NewWriter(fs fileservice.FileService, path string, opts WriterOptions) (*Writer, error) {
	opts.fillDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	w := &Writer{
		opts: opts,
		fw:   fileservice.NewFileWriter(fs, path),
		cols: make([]*columnWriter, len(opts.Columns)),
	}
	for i, spec := range opts.Columns {
		cw, err := newColumnWriter(spec, &w.opts)
		if err != nil {
			return nil, err
		}
		w.cols[i] = cw
	}
	if opts.NumShortKeyColumns > 0 {
		w.sk = index.NewShortKeyWriter()
	}
	return w, nil
}

func (w *Writer) Path() string {
	return w.fw.Path()
}

func (w *Writer) NumRows() uint32 {
	return w.numRows
}

// AppendChunk appends every row of c, whose columns must match the writer
// columns in order.
func (w *Writer) AppendChunk(c *batch.Chunk) error {
	if w.done {
		return moerr.NewInvalidState(context.TODO(), "append to finished segment %s", w.fw.Path())
	}
	if c.NumColumns() != len(w.cols) {
		return moerr.NewInvalidInput(context.TODO(), "chunk has %d columns, segment has %d", c.NumColumns(), len(w.cols))
	}
	if err := w.checkOrder(c); err != nil {
		return err
	}
	rows := c.Rows()
	pageRows := w.opts.PageRows
	sampleEvery := uint32(pageRows * w.opts.ShortKeyPageInterval)
	for start := 0; start < rows; {
		fill := int(w.numRows) % pageRows
		n := pageRows - fill
		if n > rows-start {
			n = rows - start
		}
		if w.sk != nil && w.numRows%sampleEvery == 0 {
			key := EncodeKey(w.keyBuf[:0], c.Vecs, w.opts.NumShortKeyColumns, start)
			w.keyBuf = key
			if err := w.sk.AddItem(truncateKey(key, w.opts.ShortKeyMaxBytes), w.numRows); err != nil {
				return err
			}
		}
		for i, cw := range w.cols {
			cw.append(c.Vecs[i], start, n)
		}
		w.numRows += uint32(n)
		start += n
		if int(w.numRows)%pageRows == 0 {
			if err := w.flushPages(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) checkOrder(c *batch.Chunk) error {
	if w.opts.NumKeyColumns == 0 {
		return nil
	}
	var key []byte
	for row := 0; row < c.Rows(); row++ {
		key = EncodeKey(key[:0], c.Vecs, w.opts.NumKeyColumns, row)
		if w.lastKey != nil && bytes.Compare(key, w.lastKey) < 0 {
			return moerr.NewInvalidInput(context.TODO(), "rows of segment %s are not in key order at row %d",
				w.fw.Path(), w.numRows+uint32(row))
		}
		w.lastKey = append(w.lastKey[:0], key...)
	}
	return nil
}

func (w *Writer) flushPages() error {
	before := w.fw.Size()
	for _, cw := range w.cols {
		if err := cw.flushPage(w.fw, w.opts.Codec); err != nil {
			return err
		}
	}
	w.dataSize += w.fw.Size() - before
	return nil
}

// Finalize writes the indexes and the footer and makes the file visible.
// The file is aborted on any failure.
func (w *Writer) Finalize(ctx context.Context) (info WriteInfo, err error) {
	if w.done {
		return info, moerr.NewInvalidState(ctx, "finalize finished segment %s", w.fw.Path())
	}
	w.done = true
	defer func() {
		if err != nil {
			logutil.Warn("abort segment",
				logutil.PathField(w.fw.Path()),
				logutil.ErrorField(err))
			_ = w.fw.Abort(ctx)
		}
	}()
	if err = w.flushPages(); err != nil {
		return
	}
	footer := Footer{
		Version:            FormatV1,
		NumRows:            w.numRows,
		PageRows:           uint32(w.opts.PageRows),
		NumKeyColumns:      uint32(w.opts.NumKeyColumns),
		NumShortKeyColumns: uint32(w.opts.NumShortKeyColumns),
		ShortKeyMaxBytes:   uint32(w.opts.ShortKeyMaxBytes),
		Columns:            make([]ColumnMeta, len(w.cols)),
	}
	indexStart := w.fw.Size()
	for i, cw := range w.cols {
		if err = cw.finishIndexes(w.fw, w.opts.Codec); err != nil {
			return
		}
		footer.Columns[i] = cw.meta
	}
	if w.sk != nil {
		if footer.ShortKey, err = w.sk.Finish(w.fw, w.opts.Codec, w.numRows); err != nil {
			return
		}
		footer.HasShortKey = true
	}
	indexSize := w.fw.Size() - indexStart

	var data []byte
	if data, err = page.Encode(page.TypeFooter, compress.None, footer.Marshal()); err != nil {
		return
	}
	var tail [TailSize]byte
	binary.LittleEndian.PutUint32(tail[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(tail[4:], Magic)
	if _, err = w.fw.Append(data); err != nil {
		return
	}
	if _, err = w.fw.Append(tail[:]); err != nil {
		return
	}
	total := w.fw.Size()
	if err = w.fw.Sync(ctx); err != nil {
		return
	}
	return WriteInfo{
		NumRows:   int64(w.numRows),
		DataSize:  w.dataSize,
		IndexSize: indexSize,
		TotalSize: total,
	}, nil
}

// Abort drops the file, also after a successful Finalize.
func (w *Writer) Abort(ctx context.Context) error {
	w.done = true
	return w.fw.Abort(ctx)
}
