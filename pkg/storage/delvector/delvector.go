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

package delvector

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

const (
	// formatRoaring prefixes the portable roaring serialization.
	formatRoaring byte = 0x01

	// baseMemoryUsage accounts for the struct itself.
	baseMemoryUsage = 32
)

// DelVector marks deleted row ordinals of one segment as of a version.
// A published DelVector is never mutated, extension returns a new one.
type DelVector struct {
	version int64
	// nil when no row is deleted
	bm *roaring.Bitmap
}

// New returns an empty vector at version 0.
func New() *DelVector {
	return &DelVector{}
}

func (dv *DelVector) SetEmpty() {
	dv.bm = nil
}

func (dv *DelVector) Version() int64 {
	return dv.version
}

func (dv *DelVector) Empty() bool {
	return dv.bm == nil || dv.bm.IsEmpty()
}

func (dv *DelVector) Cardinality() uint64 {
	if dv.bm == nil {
		return 0
	}
	return dv.bm.GetCardinality()
}

func (dv *DelVector) MemoryUsage() uint64 {
	if dv.bm == nil {
		return baseMemoryUsage
	}
	return baseMemoryUsage + dv.bm.GetSizeInBytes()
}

func (dv *DelVector) IsDeleted(ordinal uint32) bool {
	return dv.bm != nil && dv.bm.Contains(ordinal)
}

// Ordinals returns the deleted ordinals in ascending order.
func (dv *DelVector) Ordinals() []uint32 {
	if dv.bm == nil {
		return nil
	}
	return dv.bm.ToArray()
}

// Bitmap returns a copy of the deleted set, nil when empty.
func (dv *DelVector) Bitmap() *roaring.Bitmap {
	if dv.bm == nil {
		return nil
	}
	return dv.bm.Clone()
}

// AddDelsAsNewVersion returns a new vector holding the union of dv and
// dels, tagged with version. dv is left untouched.
func (dv *DelVector) AddDelsAsNewVersion(dels []uint32, version int64) (*DelVector, error) {
	if version <= dv.version {
		return nil, moerr.NewInvalidArgNoCtx("del vector version", fmt.Sprintf("%d <= %d", version, dv.version))
	}
	ndv := &DelVector{version: version}
	if dv.bm != nil {
		ndv.bm = dv.bm.Clone()
	}
	if len(dels) > 0 {
		if ndv.bm == nil {
			ndv.bm = roaring.New()
		}
		ndv.bm.AddMany(dels)
		ndv.bm.RunOptimize()
	}
	return ndv, nil
}

// Save serializes the cumulative deleted set. An empty vector saves as
// an empty slice.
func (dv *DelVector) Save() ([]byte, error) {
	if dv.Empty() {
		return nil, nil
	}
	buf := make([]byte, 1, 1+dv.bm.GetSerializedSizeInBytes())
	buf[0] = formatRoaring
	data, err := dv.bm.ToBytes()
	if err != nil {
		return nil, moerr.NewInternalErrorNoCtx("serialize del vector: %v", err)
	}
	return append(buf, data...), nil
}

// Load replaces the content of dv with data saved by Save.
func (dv *DelVector) Load(version int64, data []byte) error {
	dv.version = version
	dv.bm = nil
	if len(data) == 0 {
		return nil
	}
	if data[0] != formatRoaring {
		return moerr.NewCorruptionNoCtx("unknown del vector format %d", data[0])
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data[1:]); err != nil {
		return moerr.NewCorruptionNoCtx("malformed del vector: %v", err)
	}
	dv.bm = bm
	return nil
}

// Load builds a vector from data saved by Save.
func Load(version int64, data []byte) (*DelVector, error) {
	dv := New()
	if err := dv.Load(version, data); err != nil {
		return nil, err
	}
	return dv, nil
}

func (dv *DelVector) String() string {
	if dv.bm == nil {
		return fmt.Sprintf("version:%d cardinality:0", dv.version)
	}
	return fmt.Sprintf("version:%d cardinality:%d %s", dv.version, dv.bm.GetCardinality(), dv.bm.String())
}
