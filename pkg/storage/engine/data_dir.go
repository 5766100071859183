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
	"path"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
)

// MetaDirName holds the metadata store of a data dir.
const MetaDirName = "meta"

// statfs returns the total and available bytes of the file system
// holding path.
var statfs = func(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}

// FileServiceFactory builds the segment file service of a data dir.
type FileServiceFactory func(ctx context.Context, dir string) (fileservice.FileService, error)

// LocalFileServiceFactory keeps segment files under the data dir itself.
func LocalFileServiceFactory(ctx context.Context, dir string) (fileservice.FileService, error) {
	return fileservice.NewLocalFS(ctx, filepath.Base(dir), dir)
}

// ObjectFileServiceFactory keeps the segment files of every data dir in
// one bucket, under a prefix named after the dir.
func ObjectFileServiceFactory(args fileservice.ObjectStorageArguments) FileServiceFactory {
	return func(ctx context.Context, dir string) (fileservice.FileService, error) {
		a := args
		a.Name = filepath.Base(dir)
		a.KeyPrefix = path.Join(args.KeyPrefix, filepath.Base(dir))
		return fileservice.NewMinioFS(ctx, a)
	}
}

// DataDir is one storage root: a metadata store, the segment files and
// the tablets they hold.
type DataDir struct {
	path       string
	floodStage float64
	store      *kvstore.KVStore
	fs         fileservice.FileService
	tablets    *tablet.Manager
	// local tells that segment files share the file system of path.
	local bool

	mu        sync.Mutex
	capacity  int64
	available int64
}

// OpenDataDir opens the metadata store under dir and loads its tablets.
func OpenDataDir(
	ctx context.Context,
	dir string,
	cfg *config.Config,
	newFS FileServiceFactory,
	idGen rowset.IDGenerator,
) (*DataDir, error) {
	fs, err := newFS(ctx, dir)
	if err != nil {
		return nil, err
	}
	store := kvstore.NewKVStore(filepath.Join(dir, MetaDirName))
	if err := store.Init(ctx, cfg.KV.ReadOnly); err != nil {
		return nil, err
	}
	store.SetIterateTimeout(cfg.KV.IterateTimeout.Duration())
	_, local := fs.(*fileservice.LocalFS)
	d := &DataDir{
		path:       dir,
		floodStage: cfg.Storage.FloodStageUsage,
		store:      store,
		fs:         fs,
		tablets:    tablet.NewManager(store, fs, idGen),
		local:      local,
	}
	n, err := d.tablets.LoadTablets(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := d.UpdateCapacity(); err != nil {
		store.Close()
		return nil, err
	}
	logutil.Info("open data dir",
		logutil.PathField(dir),
		zap.Int("tablets", n),
		zap.String("available", humanize.IBytes(uint64(d.Available()))))
	return d, nil
}

func (d *DataDir) Path() string {
	return d.path
}

func (d *DataDir) Store() *kvstore.KVStore {
	return d.store
}

func (d *DataDir) FileService() fileservice.FileService {
	return d.fs
}

func (d *DataDir) Tablets() *tablet.Manager {
	return d.tablets
}

// UpdateCapacity queries the file system holding the data dir.
func (d *DataDir) UpdateCapacity() error {
	total, avail, err := statfs(d.path)
	if err != nil {
		return moerr.NewIOError(context.TODO(), d.path, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capacity = int64(total)
	d.available = int64(avail)
	return nil
}

func (d *DataDir) Capacity() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity
}

func (d *DataDir) Available() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// Usage is the used share of the capacity once incoming more bytes are
// written.
func (d *DataDir) Usage(incoming int64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capacity <= 0 {
		return 0
	}
	return float64(d.capacity-d.available+incoming) / float64(d.capacity)
}

// ReachCapacityLimit tells whether writing incoming bytes would push the
// dir over the flood stage. Object storage is never full.
func (d *DataDir) ReachCapacityLimit(incoming int64) bool {
	if !d.local {
		return false
	}
	d.mu.Lock()
	avail := d.available
	d.mu.Unlock()
	return incoming > avail || d.Usage(incoming) >= d.floodStage
}

// CheckCapacity is ReachCapacityLimit as an error.
func (d *DataDir) CheckCapacity(ctx context.Context, incoming int64) error {
	if d.ReachCapacityLimit(incoming) {
		return moerr.NewCapacityLimitExceeded(ctx, d.path, uint64(incoming), uint64(max(d.Available(), 0)))
	}
	return nil
}

func (d *DataDir) Close() error {
	return d.store.Close()
}
