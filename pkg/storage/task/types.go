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

	"github.com/matrixorigin/colstore/pkg/common/rscthrottler"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/storage/engine"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
)

// EngineTask is a unit of background work run synchronously by whoever
// calls Execute.
type EngineTask interface {
	Execute(ctx context.Context) error
}

//go:generate mockgen -source=types.go -destination=test/types_mock.go -package=mock_task

// Env is the part of the storage engine that tasks depend on.
type Env interface {
	Config() *config.Config
	GetTablet(ctx context.Context, tabletID int64) (*tablet.Tablet, *engine.DataDir, error)
	DataDir(path string) (*engine.DataDir, error)
	IDGenerator() rowset.IDGenerator
	MemTracker() *rscthrottler.MemTracker
	RowsetWriterContext(t *tablet.Tablet, version rowset.Version) rowset.WriterContext
	BgWorkerStopped() bool
}

var _ Env = (*engine.StorageEngine)(nil)
