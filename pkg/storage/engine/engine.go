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

package engine

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/concurrent"
	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/common/rscthrottler"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
)

// StorageEngine ties the data dirs of a backend together with the rowset
// id generator, the root memory tracker and the background stop flag.
type StorageEngine struct {
	cfg        *config.Config
	idGen      *rowset.UniqueRowsetIDGenerator
	dirs       []*DataDir
	memTracker *rscthrottler.MemTracker
	segOpts    segment.WriterOptions

	bgWorkerStopped atomic.Bool
}

type Option func(*options)

type options struct {
	newFS FileServiceFactory
}

// WithFileServiceFactory overrides where segment files are kept.
func WithFileServiceFactory(f FileServiceFactory) Option {
	return func(o *options) {
		o.newFS = f
	}
}

// Open opens every configured data dir. A new backend uid is drawn on
// every start so rowset ids of earlier runs are never reissued.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*StorageEngine, error) {
	o := options{newFS: LocalFileServiceFactory}
	if cfg.Object != nil {
		o.newFS = ObjectFileServiceFactory(*cfg.Object)
	}
	for _, opt := range opts {
		opt(&o)
	}
	segOpts, err := segment.OptionsFromConfig(&cfg.Storage)
	if err != nil {
		return nil, err
	}
	e := &StorageEngine{
		cfg:   cfg,
		idGen: rowset.NewUniqueRowsetIDGenerator(rowset.NewUniqueID()),
		memTracker: rscthrottler.NewMemTracker("process", nil,
			rscthrottler.WithConstLimit(cfg.Task.MemoryLimitBytes())),
		segOpts: segOpts,
	}
	// data dirs load their tablets in parallel, one worker per dir
	e.dirs = make([]*DataDir, len(cfg.Storage.DataDirs))
	exec := concurrent.NewExecutor(len(cfg.Storage.DataDirs))
	if err := exec.ForEach(ctx, len(e.dirs), func(ctx context.Context, i int) error {
		d, err := OpenDataDir(ctx, cfg.Storage.DataDirs[i], cfg, o.newFS, e.idGen)
		if err != nil {
			return err
		}
		e.dirs[i] = d
		return nil
	}); err != nil {
		e.Close()
		return nil, err
	}
	logutil.Info("storage engine started",
		zap.Int("data-dirs", len(e.dirs)),
		zap.Stringer("backend-uid", e.idGen.BackendUID()))
	return e, nil
}

func (e *StorageEngine) Config() *config.Config {
	return e.cfg
}

func (e *StorageEngine) IDGenerator() rowset.IDGenerator {
	return e.idGen
}

func (e *StorageEngine) MemTracker() *rscthrottler.MemTracker {
	return e.memTracker
}

// SegmentOptions are the storage level segment writer options, schema
// fields left empty.
func (e *StorageEngine) SegmentOptions() segment.WriterOptions {
	return e.segOpts
}

func (e *StorageEngine) MaxSegmentRows() int {
	return e.cfg.Storage.MaxSegmentRows
}

func (e *StorageEngine) DataDirs() []*DataDir {
	return e.dirs
}

func (e *StorageEngine) DataDir(path string) (*DataDir, error) {
	for _, d := range e.dirs {
		if d.path == path {
			return d, nil
		}
	}
	return nil, moerr.NewNotFound(context.TODO(), "data dir %s", path)
}

// StopBgWorkers raises the flag every engine task polls between units of
// work.
func (e *StorageEngine) StopBgWorkers() {
	if e.bgWorkerStopped.CompareAndSwap(false, true) {
		logutil.Info("stop background workers")
	}
}

func (e *StorageEngine) BgWorkerStopped() bool {
	return e.bgWorkerStopped.Load()
}

// CreateTablet places a new tablet on the least used data dir that has
// room left.
func (e *StorageEngine) CreateTablet(ctx context.Context, tabletID int64, schemaHash int64, schema tablet.Schema) (*tablet.Tablet, *DataDir, error) {
	if _, _, err := e.GetTablet(ctx, tabletID); err == nil {
		return nil, nil, moerr.NewTabletAlreadyExists(ctx, tabletID)
	}
	var best *DataDir
	for _, d := range e.dirs {
		if d.ReachCapacityLimit(0) {
			continue
		}
		if best == nil || d.Usage(0) < best.Usage(0) {
			best = d
		}
	}
	if best == nil {
		return nil, nil, moerr.NewCapacityLimitExceeded(ctx, "all data dirs", 0, 0)
	}
	t, err := best.tablets.CreateTablet(ctx, tabletID, schemaHash, schema)
	if err != nil {
		return nil, nil, err
	}
	return t, best, nil
}

// GetTablet finds a tablet and the data dir holding it.
func (e *StorageEngine) GetTablet(ctx context.Context, tabletID int64) (*tablet.Tablet, *DataDir, error) {
	for _, d := range e.dirs {
		if t, err := d.tablets.GetTablet(ctx, tabletID); err == nil {
			return t, d, nil
		}
	}
	return nil, nil, moerr.NewTabletNotFound(ctx, tabletID)
}

func (e *StorageEngine) DropTablet(ctx context.Context, tabletID int64) error {
	_, d, err := e.GetTablet(ctx, tabletID)
	if err != nil {
		return err
	}
	return d.tablets.DropTablet(ctx, tabletID)
}

// Tablets lists the tablets of every data dir.
func (e *StorageEngine) Tablets() []*tablet.Tablet {
	var tablets []*tablet.Tablet
	for _, d := range e.dirs {
		tablets = append(tablets, d.tablets.Tablets()...)
	}
	return tablets
}

// RowsetWriterContext prepares the writer of a new rowset of t with the
// configured segment options.
func (e *StorageEngine) RowsetWriterContext(t *tablet.Tablet, version rowset.Version) rowset.WriterContext {
	return t.RowsetWriterContext(version, e.segOpts, e.cfg.Storage.MaxSegmentRows)
}

func (e *StorageEngine) Close() error {
	e.StopBgWorkers()
	var firstErr error
	for _, d := range e.dirs {
		if d == nil {
			continue
		}
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
