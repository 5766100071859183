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
	"time"

	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/common/rscthrottler"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
	"github.com/matrixorigin/colstore/pkg/util/metric"
)

// checksumSlowThreshold is the duration above which a successful
// checksum is logged.
var checksumSlowThreshold = 30 * time.Second

// ChecksumTask folds the checksum eligible columns of a tablet at a
// version into one 64 bit value.
type ChecksumTask struct {
	env      Env
	tracker  *rscthrottler.MemTracker
	tabletID int64
	version  int64
	checksum *uint64
}

// NewChecksumTask writes its result to checksum. parent bounds the task
// memory, the engine tracker is used when it is nil.
func NewChecksumTask(env Env, parent *rscthrottler.MemTracker, tabletID int64, version int64, checksum *uint64) *ChecksumTask {
	if parent == nil {
		parent = env.MemTracker()
	}
	return &ChecksumTask{
		env:      env,
		tracker:  rscthrottler.NewMemTracker("checksum instance", parent),
		tabletID: tabletID,
		version:  version,
		checksum: checksum,
	}
}

func (task *ChecksumTask) Execute(ctx context.Context) error {
	start := time.Now()
	err := task.computeChecksum(ctx)
	metric.TaskDurationHistogram.WithLabelValues("checksum").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		metric.ChecksumSucceedCounter.Inc()
	case moerr.IsMoErrCode(err, moerr.ErrTaskInterrupted):
		metric.ChecksumInterruptedCounter.Inc()
	default:
		metric.ChecksumFailedCounter.Inc()
	}
	return err
}

// chunkSize bounds the rows of a chunk so that every consistency worker
// can hold one within the parent limit.
func (task *ChecksumTask) chunkSize(t *tablet.Tablet) int {
	cfg := task.env.Config()
	vectorChunkSize := int64(cfg.Task.VectorChunkSize)
	limit := vectorChunkSize
	parent := task.tracker.Parent()
	if avg := t.AverageRowSize(); avg != 0 && parent != nil && parent.HasLimit() {
		limit = parent.Limit() / avg / int64(max(1, cfg.Task.CheckConsistencyWorkers))
	}
	return int(min(vectorChunkSize, limit+1))
}

func (task *ChecksumTask) computeChecksum(ctx context.Context) error {
	begin := time.Now()
	logutil.Debug("begin to compute checksum",
		logutil.TabletField(task.tabletID),
		zap.Int64("version", task.version))

	if task.checksum == nil {
		return moerr.NewInternalError(ctx, "the output checksum is nil")
	}
	t, _, err := task.env.GetTablet(ctx, task.tabletID)
	if err != nil {
		logutil.Warn("tablet not found", logutil.TabletField(task.tabletID), logutil.ErrorField(err))
		return err
	}
	columns := t.Schema().ChecksumColumns()

	reader := tablet.NewReader(t, task.version)
	if err := reader.Prepare(ctx); err != nil {
		logutil.Warn("failed to prepare tablet reader",
			logutil.TabletField(task.tabletID),
			logutil.ErrorField(err))
		return err
	}
	params := tablet.ReaderParams{
		ChunkSize: task.chunkSize(t),
		Columns:   columns,
	}
	if err := reader.Open(ctx, params); err != nil {
		logutil.Warn("failed to open tablet reader",
			logutil.TabletField(task.tabletID),
			logutil.ErrorField(err))
		return err
	}

	var checksum uint64
	for {
		if task.env.BgWorkerStopped() {
			return moerr.NewTaskInterrupted(ctx, "checksum of tablet %d", task.tabletID)
		}
		chunk, err := reader.GetNext(ctx)
		if moerr.IsMoErrCode(err, moerr.OkExpectedEOF) {
			break
		}
		if err != nil {
			logutil.Warn("failed to compute checksum",
				logutil.TabletField(task.tabletID),
				logutil.ErrorField(err))
			return err
		}
		size := int64(chunk.MemSize())
		task.tracker.Consume(size)
		if err := task.tracker.CheckMemLimit(ctx); err != nil {
			task.tracker.Release(size)
			logutil.Warn("failed to finish checksum", logutil.ErrorField(err))
			return err
		}
		rows := chunk.Rows()
		for _, vec := range chunk.Vecs {
			checksum ^= vec.XorChecksum(0, rows)
		}
		task.tracker.Release(size)
	}

	if cost := time.Since(begin); cost >= checksumSlowThreshold {
		logutil.Info("finish computing checksum",
			logutil.TabletField(task.tabletID),
			zap.Int64("version", task.version),
			zap.Uint64("checksum", checksum),
			logutil.DurationField(cost))
	}
	*task.checksum = checksum
	return nil
}
