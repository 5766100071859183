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

package rowset

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/container/batch"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
)

const (
	DataDirName       = "data"
	SegmentFileSuffix = ".dat"
)

// TabletDataDir holds the segment files of a tablet.
func TabletDataDir(tabletID int64) string {
	return path.Join(DataDirName, strconv.FormatInt(tabletID, 10))
}

// SegmentPath is data/<tablet_id>/<rowset_id>_<seg>.dat.
func SegmentPath(tabletID int64, id RowsetID, seg int) string {
	return path.Join(TabletDataDir(tabletID), fmt.Sprintf("%s_%d%s", id, seg, SegmentFileSuffix))
}

// ParseSegmentFileName splits a segment file base name into its rowset id
// and segment index.
func ParseSegmentFileName(name string) (RowsetID, int, error) {
	stem, ok := strings.CutSuffix(name, SegmentFileSuffix)
	sep := strings.LastIndexByte(stem, '_')
	if !ok || sep <= 0 {
		return RowsetID{}, 0, moerr.NewInvalidArgNoCtx("segment file name", name)
	}
	seg, err := strconv.Atoi(stem[sep+1:])
	if err != nil || seg < 0 {
		return RowsetID{}, 0, moerr.NewInvalidArgNoCtx("segment file name", name)
	}
	id, err := ParseRowsetID(stem[:sep])
	if err != nil {
		return RowsetID{}, 0, err
	}
	return id, seg, nil
}

type WriterContext struct {
	FS             fileservice.FileService
	IDGenerator    IDGenerator
	TabletID       int64
	TabletUID      UniqueID
	SchemaHash     int64
	Version        Version
	Segment        segment.WriterOptions
	MaxSegmentRows int
	// Overlapping tells that chunks are only sorted within a segment.
	Overlapping bool
}

// Writer writes the segments of a new rowset. It owns the rowset id until
// Build succeeds, Abort drops the files and gives the id back.
type Writer struct {
	wctx     WriterContext
	meta     *Meta
	cur      *segment.Writer
	paths    []string
	finished bool
}

func NewWriter(wctx WriterContext) (*Writer, error) {
	if wctx.FS == nil || wctx.IDGenerator == nil {
		return nil, moerr.NewInvalidArgNoCtx("rowset writer context", "missing file service or id generator")
	}
	if wctx.MaxSegmentRows <= 0 {
		wctx.MaxSegmentRows = config.DefaultMaxSegmentRows
	}
	id := wctx.IDGenerator.NextID()
	meta := NewMeta(id, wctx.TabletID, wctx.TabletUID, wctx.SchemaHash, wctx.Version)
	return &Writer{wctx: wctx, meta: meta}, nil
}

func (w *Writer) RowsetID() RowsetID {
	return w.meta.RowsetID
}

func (w *Writer) NumRows() int64 {
	n := w.meta.NumRows
	if w.cur != nil {
		n += int64(w.cur.NumRows())
	}
	return n
}

// AddChunk appends c, starting new segments as they fill up.
func (w *Writer) AddChunk(ctx context.Context, c *batch.Chunk) error {
	if w.finished {
		return moerr.NewInvalidState(ctx, "add chunk to finished rowset %s", w.meta.RowsetID)
	}
	rows := c.Rows()
	for start := 0; start < rows; {
		if w.cur == nil {
			if err := w.newSegment(); err != nil {
				return err
			}
		}
		n := w.wctx.MaxSegmentRows - int(w.cur.NumRows())
		if n > rows-start {
			n = rows - start
		}
		part := c
		if start != 0 || n != rows {
			part = window(c, start, start+n)
		}
		if err := w.cur.AppendChunk(part); err != nil {
			return err
		}
		start += n
		if int(w.cur.NumRows()) >= w.wctx.MaxSegmentRows {
			if err := w.Flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func window(c *batch.Chunk, start, end int) *batch.Chunk {
	w := &batch.Chunk{Vecs: make([]*vector.Vector, len(c.Vecs))}
	for i, v := range c.Vecs {
		w.Vecs[i] = v.Window(start, end)
	}
	return w
}

func (w *Writer) newSegment() error {
	p := SegmentPath(w.wctx.TabletID, w.meta.RowsetID, len(w.paths))
	sw, err := segment.NewWriter(w.wctx.FS, p, w.wctx.Segment)
	if err != nil {
		return err
	}
	w.cur = sw
	w.paths = append(w.paths, p)
	return nil
}

// Flush finalizes the current segment, the next chunk opens a new one.
func (w *Writer) Flush(ctx context.Context) error {
	if w.cur == nil {
		return nil
	}
	sw := w.cur
	w.cur = nil
	info, err := sw.Finalize(ctx)
	if err != nil {
		return err
	}
	w.meta.Segments = append(w.meta.Segments, SegmentMeta{
		NumRows:   info.NumRows,
		DataSize:  info.DataSize,
		IndexSize: info.IndexSize,
	})
	w.meta.NumRows += info.NumRows
	w.meta.DataDiskSize += info.DataSize
	w.meta.IndexDiskSize += info.IndexSize
	w.meta.TotalDiskSize += info.TotalSize
	return nil
}

// Build finalizes the last segment and returns the committed meta.
func (w *Writer) Build(ctx context.Context) (*Meta, error) {
	if w.finished {
		return nil, moerr.NewInvalidState(ctx, "build finished rowset %s", w.meta.RowsetID)
	}
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	w.finished = true
	w.meta.Overlapping = w.wctx.Overlapping && len(w.meta.Segments) > 1
	w.meta.State = StateCommitted
	logutil.Debug("rowset built",
		logutil.TabletField(w.wctx.TabletID),
		logutil.RowsetField(w.meta.RowsetID.String()),
		zap.Int64("rows", w.meta.NumRows),
		zap.Int("segments", len(w.meta.Segments)))
	return w.meta.Clone(), nil
}

// SegmentPaths lists the files written so far.
func (w *Writer) SegmentPaths() []string {
	return append([]string(nil), w.paths...)
}

// Abort deletes every written file and releases the rowset id.
func (w *Writer) Abort(ctx context.Context) error {
	w.finished = true
	var firstErr error
	if w.cur != nil {
		if err := w.cur.Abort(ctx); err != nil {
			logutil.Warn("abort open segment of aborted rowset failed",
				logutil.RowsetField(w.meta.RowsetID.String()),
				logutil.ErrorField(err))
			firstErr = err
		}
		w.cur = nil
	}
	if err := w.wctx.FS.Delete(ctx, w.paths...); err != nil {
		logutil.Warn("delete files of aborted rowset failed",
			logutil.RowsetField(w.meta.RowsetID.String()),
			logutil.ErrorField(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	w.wctx.IDGenerator.ReleaseID(w.meta.RowsetID)
	return firstErr
}
