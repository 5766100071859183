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
	"sync"

	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/storage/segment"
)

// Rowset is a committed meta plus its segment files, opened on demand.
type Rowset struct {
	meta *Meta
	fs   fileservice.FileService

	mu       sync.Mutex
	segments []*segment.Segment
}

func NewRowset(fs fileservice.FileService, meta *Meta) *Rowset {
	return &Rowset{
		meta:     meta,
		fs:       fs,
		segments: make([]*segment.Segment, len(meta.Segments)),
	}
}

func (r *Rowset) Meta() *Meta {
	return r.meta
}

func (r *Rowset) ID() RowsetID {
	return r.meta.RowsetID
}

func (r *Rowset) Version() Version {
	return r.meta.Version
}

func (r *Rowset) NumRows() int64 {
	return r.meta.NumRows
}

func (r *Rowset) NumSegments() int {
	return len(r.meta.Segments)
}

func (r *Rowset) FileService() fileservice.FileService {
	return r.fs
}

func (r *Rowset) SegmentPath(i int) string {
	return SegmentPath(r.meta.TabletID, r.meta.RowsetID, i)
}

func (r *Rowset) SegmentPaths() []string {
	paths := make([]string, len(r.meta.Segments))
	for i := range paths {
		paths[i] = r.SegmentPath(i)
	}
	return paths
}

// Segment opens segment i on first use.
func (r *Rowset) Segment(ctx context.Context, i int) (*segment.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seg := r.segments[i]; seg != nil {
		return seg, nil
	}
	seg, err := segment.Open(ctx, r.fs, r.SegmentPath(i))
	if err != nil {
		return nil, err
	}
	r.segments[i] = seg
	return seg, nil
}

// Load opens every segment.
func (r *Rowset) Load(ctx context.Context) error {
	for i := range r.meta.Segments {
		if _, err := r.Segment(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFiles deletes the segment files, the meta is left to the caller.
func (r *Rowset) RemoveFiles(ctx context.Context) error {
	r.mu.Lock()
	for i := range r.segments {
		r.segments[i] = nil
	}
	r.mu.Unlock()
	return r.fs.Delete(ctx, r.SegmentPaths()...)
}
