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
	"golang.org/x/time/rate"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/delvector"
	"github.com/matrixorigin/colstore/pkg/storage/engine"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
	"github.com/matrixorigin/colstore/pkg/util/metric"
)

// migrationBlockSize is the unit of throttled reads.
const migrationBlockSize = 1 << 20

// StorageMigrationTask moves a tablet to another data dir of the same
// engine.
type StorageMigrationTask struct {
	env      Env
	tabletID int64
	destPath string
	limiter  *rate.Limiter
}

func NewStorageMigrationTask(env Env, tabletID int64, destPath string) *StorageMigrationTask {
	bps := env.Config().Task.MigrationBytesPerSecond()
	limiter := rate.NewLimiter(rate.Inf, 0)
	if bps > 0 {
		limiter = rate.NewLimiter(rate.Limit(bps), int(max(bps, migrationBlockSize)))
	}
	return &StorageMigrationTask{
		env:      env,
		tabletID: tabletID,
		destPath: destPath,
		limiter:  limiter,
	}
}

func (task *StorageMigrationTask) Execute(ctx context.Context) error {
	start := time.Now()
	err := task.migrate(ctx)
	metric.TaskDurationHistogram.WithLabelValues("migration").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metric.MigrationSucceedCounter.Inc()
	case moerr.IsMoErrCode(err, moerr.ErrTaskInterrupted):
		metric.MigrationInterruptedCounter.Inc()
	default:
		metric.MigrationFailedCounter.Inc()
	}
	return err
}

// snapshot is what the task copies, used again before commit to detect
// concurrent changes.
type snapshot struct {
	rowsets    []*rowset.Rowset
	delvecs    map[uint32]*delvectorRef
	totalBytes int64
}

type delvectorRef struct {
	segID   uint32
	version int64
}

func takeSnapshot(ctx context.Context, t *tablet.Tablet) (*snapshot, error) {
	s := &snapshot{delvecs: make(map[uint32]*delvectorRef)}
	if t.NumRowsets() > 0 {
		rowsets, err := t.CaptureConsistentRowsets(ctx, rowset.Version{Start: 0, End: t.MaxVersion().End})
		if err != nil {
			return nil, err
		}
		s.rowsets = rowsets
	}
	for _, rs := range s.rowsets {
		meta := rs.Meta()
		s.totalBytes += meta.TotalDiskSize
		for i := 0; i < rs.NumSegments(); i++ {
			dv, err := t.DelVector(ctx, meta.SegmentID(i), math.MaxInt64)
			if err != nil {
				return nil, err
			}
			s.delvecs[meta.SegmentID(i)] = &delvectorRef{segID: meta.SegmentID(i), version: dv.Version()}
		}
	}
	return s, nil
}

func (s *snapshot) equal(o *snapshot) bool {
	if len(s.rowsets) != len(o.rowsets) || len(s.delvecs) != len(o.delvecs) {
		return false
	}
	for i := range s.rowsets {
		if s.rowsets[i].ID() != o.rowsets[i].ID() {
			return false
		}
	}
	for id, ref := range s.delvecs {
		if other, ok := o.delvecs[id]; !ok || other.version != ref.version {
			return false
		}
	}
	return true
}

func (task *StorageMigrationTask) migrate(ctx context.Context) (err error) {
	t, src, err := task.env.GetTablet(ctx, task.tabletID)
	if err != nil {
		return err
	}
	dest, err := task.env.DataDir(task.destPath)
	if err != nil {
		return err
	}
	if dest == src {
		return moerr.NewInvalidArg(ctx, "migration destination", task.destPath)
	}
	if t.State() == tablet.StateShutdown {
		return moerr.NewInvalidState(ctx, "tablet %d is shut down", task.tabletID)
	}

	snap, err := takeSnapshot(ctx, t)
	if err != nil {
		return err
	}
	if err := dest.UpdateCapacity(); err != nil {
		return err
	}
	if err := dest.CheckCapacity(ctx, snap.totalBytes); err != nil {
		return err
	}
	logutil.Info("begin to migrate tablet",
		logutil.TabletField(task.tabletID),
		logutil.PathField(dest.Path()),
		zap.Int("rowsets", len(snap.rowsets)),
		zap.String("size", humanize.IBytes(uint64(snap.totalBytes))))

	var copied []string
	defer func() {
		if err != nil && len(copied) > 0 {
			if derr := dest.FileService().Delete(ctx, copied...); derr != nil {
				logutil.Warn("remove migrated files", logutil.ErrorField(derr))
			}
		}
	}()
	for _, rs := range snap.rowsets {
		for _, p := range rs.SegmentPaths() {
			if task.env.BgWorkerStopped() {
				return moerr.NewTaskInterrupted(ctx, "migration of tablet %d", task.tabletID)
			}
			if err := task.copyFile(ctx, src.FileService(), dest.FileService(), p); err != nil {
				return err
			}
			copied = append(copied, p)
		}
	}

	// the source takes no writes from the final compare until it is
	// dropped
	if err = t.ExclusiveWrite(func() error {
		return task.install(ctx, t, src, dest, snap)
	}); err != nil {
		return err
	}
	metric.TaskBytesCounter.WithLabelValues("migration").Add(float64(snap.totalBytes))
	logutil.Info("tablet migrated",
		logutil.TabletField(task.tabletID),
		logutil.PathField(dest.Path()))
	return nil
}

// install checks that t still matches snap, then moves its metadata from
// src to dest.
func (task *StorageMigrationTask) install(
	ctx context.Context,
	t *tablet.Tablet,
	src, dest *engine.DataDir,
	snap *snapshot,
) error {
	now, err := takeSnapshot(ctx, t)
	if err != nil {
		return err
	}
	if !snap.equal(now) {
		return moerr.NewInvalidState(ctx, "tablet %d changed during migration", task.tabletID)
	}

	wb := kvstore.NewWriteBatch()
	tabletMeta := t.Meta()
	tablet.AddSaveTabletMeta(wb, tabletMeta)
	for _, rs := range snap.rowsets {
		rowset.AddSaveRowsetMeta(wb, tabletMeta.TabletUID, rs.Meta())
	}
	for _, ref := range snap.delvecs {
		if ref.version == 0 {
			continue
		}
		dv, err := t.DelVector(ctx, ref.segID, math.MaxInt64)
		if err != nil {
			return err
		}
		if err := delvector.AddSaveDelVector(wb, task.tabletID, ref.segID, dv); err != nil {
			return err
		}
	}
	if err := dest.Store().WriteBatch(ctx, wb); err != nil {
		return err
	}
	if _, err := dest.Tablets().LoadTablet(ctx, task.tabletID, tabletMeta.SchemaHash); err != nil {
		return task.rollbackMeta(ctx, dest, tabletMeta, snap, err)
	}
	if err := src.Tablets().DropTablet(ctx, task.tabletID); err != nil {
		// the destination copy is complete, the source is left for the
		// orphan sweeper
		logutil.Warn("drop migrated source tablet",
			logutil.TabletField(task.tabletID),
			logutil.PathField(src.Path()),
			logutil.ErrorField(err))
	}
	return nil
}

func (task *StorageMigrationTask) rollbackMeta(
	ctx context.Context,
	dest *engine.DataDir,
	meta *tablet.Meta,
	snap *snapshot,
	cause error,
) error {
	wb := kvstore.NewWriteBatch()
	tablet.AddRemoveTabletMeta(wb, meta.TabletID, meta.SchemaHash)
	for _, rs := range snap.rowsets {
		rowset.AddRemoveRowsetMeta(wb, meta.TabletUID, rs.ID())
	}
	if err := dest.Store().WriteBatch(ctx, wb); err != nil {
		logutil.Warn("rollback migrated metadata", logutil.ErrorField(err))
	}
	if err := delvector.DeleteTabletDelVectors(ctx, dest.Store(), meta.TabletID); err != nil {
		logutil.Warn("rollback migrated del vectors", logutil.ErrorField(err))
	}
	return cause
}

// copyFile copies one file block by block, each block waiting for the
// limiter.
func (task *StorageMigrationTask) copyFile(ctx context.Context, from, to fileservice.FileService, p string) error {
	entry, err := from.Stat(ctx, p)
	if err != nil {
		return err
	}
	w := fileservice.NewFileWriter(to, p)
	for off := int64(0); off < entry.Size; off += migrationBlockSize {
		n := min(int64(migrationBlockSize), entry.Size-off)
		if err := task.limiter.WaitN(ctx, int(n)); err != nil {
			_ = w.Abort(ctx)
			return moerr.AttachCause(moerr.NewTaskInterrupted(ctx, "migration of tablet %d", task.tabletID), err)
		}
		data, err := fileservice.ReadAt(ctx, from, p, off, n)
		if err != nil {
			_ = w.Abort(ctx)
			return err
		}
		if _, err := w.Append(data); err != nil {
			_ = w.Abort(ctx)
			return err
		}
	}
	if err := w.Sync(ctx); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	return nil
}
