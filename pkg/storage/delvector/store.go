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
	"context"
	"encoding/binary"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
)

// DelVectorPrefix starts every del vector key in the meta namespace. The
// rest of the key is tablet id (8) | segment id (4) | version (8), all
// big endian, so a prefix scan yields versions in ascending order.
const DelVectorPrefix = "dlv_"

const delVectorKeyLen = len(DelVectorPrefix) + 8 + 4 + 8

func DelVectorKey(tabletID int64, segmentID uint32, version int64) []byte {
	return binary.BigEndian.AppendUint64(SegmentPrefix(tabletID, segmentID), uint64(version))
}

// TabletPrefix enumerates the del vectors of every segment of a tablet.
func TabletPrefix(tabletID int64) []byte {
	key := make([]byte, 0, delVectorKeyLen)
	key = append(key, DelVectorPrefix...)
	return binary.BigEndian.AppendUint64(key, uint64(tabletID))
}

// SegmentPrefix enumerates every version of one segment.
func SegmentPrefix(tabletID int64, segmentID uint32) []byte {
	return binary.BigEndian.AppendUint32(TabletPrefix(tabletID), segmentID)
}

func decodeVersion(key []byte) (int64, error) {
	if len(key) != delVectorKeyLen {
		return 0, moerr.NewCorruptionNoCtx("del vector key length %d", len(key))
	}
	return int64(binary.BigEndian.Uint64(key[delVectorKeyLen-8:])), nil
}

func SaveDelVector(ctx context.Context, store *kvstore.KVStore, tabletID int64, segmentID uint32, dv *DelVector) error {
	wb := kvstore.NewWriteBatch()
	if err := AddSaveDelVector(wb, tabletID, segmentID, dv); err != nil {
		return err
	}
	return store.WriteBatch(ctx, wb)
}

func AddSaveDelVector(wb *kvstore.WriteBatch, tabletID int64, segmentID uint32, dv *DelVector) error {
	data, err := dv.Save()
	if err != nil {
		return err
	}
	wb.Put(kvstore.MetaColumnFamily, DelVectorKey(tabletID, segmentID, dv.Version()), data)
	return nil
}

// GetLatestDelVector returns the newest persisted version not above
// maxVersion, or an empty vector when there is none.
func GetLatestDelVector(
	ctx context.Context,
	store *kvstore.KVStore,
	tabletID int64,
	segmentID uint32,
	maxVersion int64,
) (*DelVector, error) {
	var (
		found   bool
		version int64
		data    []byte
	)
	err := store.Iterate(ctx, kvstore.MetaColumnFamily, SegmentPrefix(tabletID, segmentID), func(key, value []byte) (bool, error) {
		v, err := decodeVersion(key)
		if err != nil {
			return false, err
		}
		if v > maxVersion {
			return false, nil
		}
		// value is only valid during the call
		found, version, data = true, v, append(data[:0], value...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return New(), nil
	}
	return Load(version, data)
}

// ListVersions returns the persisted versions of one segment in order.
func ListVersions(ctx context.Context, store *kvstore.KVStore, tabletID int64, segmentID uint32) ([]int64, error) {
	var versions []int64
	err := store.Iterate(ctx, kvstore.MetaColumnFamily, SegmentPrefix(tabletID, segmentID), func(key, _ []byte) (bool, error) {
		v, err := decodeVersion(key)
		if err != nil {
			return false, err
		}
		versions = append(versions, v)
		return true, nil
	})
	return versions, err
}

// AddDeleteDelVectors records the removal of every version of a segment
// into wb, so it can be committed with related rowset meta changes.
func AddDeleteDelVectors(ctx context.Context, store *kvstore.KVStore, wb *kvstore.WriteBatch, tabletID int64, segmentID uint32) error {
	return store.Iterate(ctx, kvstore.MetaColumnFamily, SegmentPrefix(tabletID, segmentID), func(key, _ []byte) (bool, error) {
		wb.Delete(kvstore.MetaColumnFamily, key)
		return true, nil
	})
}

// DeleteDelVectors removes every version of a segment.
func DeleteDelVectors(ctx context.Context, store *kvstore.KVStore, tabletID int64, segmentID uint32) error {
	wb := kvstore.NewWriteBatch()
	if err := AddDeleteDelVectors(ctx, store, wb, tabletID, segmentID); err != nil {
		return err
	}
	if wb.Count() == 0 {
		return nil
	}
	return store.WriteBatch(ctx, wb)
}

// DeleteTabletDelVectors removes the del vectors of every segment of a
// tablet.
func DeleteTabletDelVectors(ctx context.Context, store *kvstore.KVStore, tabletID int64) error {
	begin := TabletPrefix(tabletID)
	end := kvstore.PrefixUpperBound(begin)
	if err := store.OptDeleteRange(ctx, kvstore.MetaColumnFamily, begin, end); err != nil {
		logutil.Error("delete tablet del vectors failed",
			logutil.TabletField(tabletID),
			logutil.ErrorField(err))
		return err
	}
	return nil
}
