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

package task

import (
	"context"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/common/rscthrottler"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
	"github.com/matrixorigin/colstore/pkg/util/metric"
)

// CompactionTask merges consecutive visible rowsets of a tablet into one
// rowset covering their versions. Deleted rows are dropped.
type CompactionTask struct {
	env      Env
	tracker  *rscthrottler.MemTracker
	tabletID int64
	output   *rowset.Meta
}

func NewCompactionTask(env Env, parent *rscthrottler.MemTracker, tabletID int64) *CompactionTask {
	if parent == nil {
		parent = env.MemTracker()
	}
	return &CompactionTask{
		env:      env,
		tracker:  rscthrottler.NewMemTracker("compaction instance", parent),
		tabletID: tabletID,
	}
}

// Output is the rowset built by a successful Execute, nil when there was
// nothing to compact.
func (task *CompactionTask) Output() *rowset.Meta {
	return task.output
}

func (task *CompactionTask) Execute(ctx context.Context) error {
	start := time.Now()
	err := task.compact(ctx)
	metric.TaskDurationHistogram.WithLabelValues("compaction").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metric.CompactionSucceedCounter.Inc()
	case moerr.IsMoErrCode(err, moerr.ErrTaskInterrupted):
		metric.CompactionInterruptedCounter.Inc()
	default:
		metric.CompactionFailedCounter.Inc()
	}
	return err
}

// PickRowsets returns the first run of at least minRowsets rowsets with
// contiguous versions, cut at maxRowsets.
func PickRowsets(rowsets []*rowset.Rowset, minRowsets, maxRowsets int) []*rowset.Rowset {
	var run []*rowset.Rowset
	for _, rs := range rowsets {
		if n := len(run); n > 0 && run[n-1].Version().End+1 != rs.Version().Start {
			if n >= minRowsets {
				break
			}
			run = run[:0]
		}
		run = append(run, rs)
		if len(run) == maxRowsets {
			break
		}
	}
	if len(run) < minRowsets {
		return nil
	}
	return run
}

func (task *CompactionTask) preload(ctx context.Context, rowsets []*rowset.Rowset) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, task.env.Config().Task.PreloadWorkers))
	for _, rs := range rowsets {
		for i := 0; i < rs.NumSegments(); i++ {
			rs, i := rs, i
			g.Go(func() error {
				seg, err := rs.Segment(gctx, i)
				if err != nil {
					return err
				}
				return seg.PreloadIndexes(gctx)
			})
		}
	}
	return g.Wait()
}

// beforeCompactionSwap runs between building the output and swapping it
// in.
var beforeCompactionSwap = func(*tablet.Tablet) {}

// delVersions records the del vector version of every input segment.
func delVersions(ctx context.Context, t *tablet.Tablet, rowsets []*rowset.Rowset) (map[uint32]int64, error) {
	versions := make(map[uint32]int64)
	for _, rs := range rowsets {
		meta := rs.Meta()
		for i := 0; i < rs.NumSegments(); i++ {
			dv, err := t.DelVector(ctx, meta.SegmentID(i), math.MaxInt64)
			if err != nil {
				return nil, err
			}
			versions[meta.SegmentID(i)] = dv.Version()
		}
	}
	return versions, nil
}

func (task *CompactionTask) compact(ctx context.Context) (err error) {
	t, _, err := task.env.GetTablet(ctx, task.tabletID)
	if err != nil {
		return err
	}
	cfg := task.env.Config()
	input := PickRowsets(t.Rowsets(), cfg.Task.CompactionMinRowsets, cfg.Task.CompactionMaxRowsets)
	if input == nil {
		logutil.Debug("nothing to compact", logutil.TabletField(task.tabletID))
		return nil
	}
	version := rowset.Version{Start: input[0].Version().Start, End: input[len(input)-1].Version().End}

	if err := task.preload(ctx, input); err != nil {
		return err
	}
	dvVersions, err := delVersions(ctx, t, input)
	if err != nil {
		return err
	}

	sorted := t.Schema().NumKeyColumns() > 0
	reader := tablet.NewRowsetReader(t, input, math.MaxInt64)
	if err := reader.Open(ctx, tablet.ReaderParams{
		ChunkSize:   cfg.Task.VectorChunkSize,
		SortedMerge: sorted,
	}); err != nil {
		return err
	}

	wctx := task.env.RowsetWriterContext(t, version)
	wctx.Overlapping = !sorted
	w, err := rowset.NewWriter(wctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if aerr := w.Abort(ctx); aerr != nil {
				logutil.Warn("abort compaction output",
					logutil.RowsetField(w.RowsetID().String()),
					logutil.ErrorField(aerr))
			}
		}
	}()

	for {
		if task.env.BgWorkerStopped() {
			return moerr.NewTaskInterrupted(ctx, "compaction of tablet %d", task.tabletID)
		}
		chunk, err := reader.GetNext(ctx)
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
		size := int64(chunk.MemSize())
		task.tracker.Consume(size)
		if err := task.tracker.CheckMemLimit(ctx); err != nil {
			task.tracker.Release(size)
			return err
		}
		err = w.AddChunk(ctx, chunk)
		task.tracker.Release(size)
		if err != nil {
			return err
		}
	}
	meta, err := w.Build(ctx)
	if err != nil {
		return err
	}

	beforeCompactionSwap(t)
	// deletes that landed on the input since it was read fail the swap
	if err := t.ReplaceRowsets(ctx, []*rowset.Meta{meta}, input, dvVersions); err != nil {
		return err
	}
	task.output = meta

	var inputRows, inputBytes int64
	for _, rs := range input {
		inputRows += rs.NumRows()
		inputBytes += rs.Meta().TotalDiskSize
		if err := rs.RemoveFiles(ctx); err != nil {
			logutil.Warn("remove compacted rowset files",
				logutil.RowsetField(rs.ID().String()),
				logutil.ErrorField(err))
		}
	}
	metric.TaskBytesCounter.WithLabelValues("compaction").Add(float64(inputBytes + meta.TotalDiskSize))
	logutil.Info("compaction finished",
		logutil.TabletField(task.tabletID),
		zap.Stringer("version", version),
		zap.Int("input-rowsets", len(input)),
		zap.Int64("input-rows", inputRows),
		zap.Int64("output-rows", meta.NumRows),
		zap.String("output-size", humanize.IBytes(uint64(meta.TotalDiskSize))))
	return nil
}
