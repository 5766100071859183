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

package index

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/fileservice"
)

// countingFS counts reads so tests can tell how many times an index was
// deserialized.
type countingFS struct {
	fileservice.FileService
	reads atomic.Int64
}

func (c *countingFS) Read(ctx context.Context, vector *fileservice.IOVector) error {
	c.reads.Add(1)
	return c.FileService.Read(ctx, vector)
}

func newTestFileWriter(t *testing.T) (*countingFS, *fileservice.FileWriter) {
	fs := &countingFS{FileService: fileservice.NewMemoryFS("index")}
	return fs, fileservice.NewFileWriter(fs, "seg_0.dat")
}

func syncFile(t *testing.T, fw *fileservice.FileWriter) {
	require.NoError(t, fw.Sync(context.Background()))
}
