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
	"strings"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/delvector"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
)

// RowsetMetaPrefix starts every rowset meta key in the meta namespace.
const RowsetMetaPrefix = "rst_"

// RowsetMetaKey is "rst_" + tablet uid + "_" + rowset id.
func RowsetMetaKey(tabletUID UniqueID, id RowsetID) []byte {
	var sb strings.Builder
	sb.Grow(len(RowsetMetaPrefix) + uniqueIDStringLen + 1 + RowsetIDHexLen)
	sb.WriteString(RowsetMetaPrefix)
	sb.WriteString(tabletUID.String())
	sb.WriteByte('_')
	sb.WriteString(id.String())
	return []byte(sb.String())
}

// TabletRowsetMetaPrefix enumerates every rowset of one tablet instance.
func TabletRowsetMetaPrefix(tabletUID UniqueID) []byte {
	return []byte(RowsetMetaPrefix + tabletUID.String() + "_")
}

func parseRowsetMetaKey(key []byte) (UniqueID, RowsetID, error) {
	s := string(key)
	rest := strings.TrimPrefix(s, RowsetMetaPrefix)
	if len(rest) < uniqueIDStringLen+2 || rest[uniqueIDStringLen] != '_' {
		return UniqueID{}, RowsetID{}, moerr.NewCorruptionNoCtx("rowset meta key %s", s)
	}
	uid, err := ParseUniqueID(rest[:uniqueIDStringLen])
	if err != nil {
		return UniqueID{}, RowsetID{}, err
	}
	id, err := ParseRowsetID(rest[uniqueIDStringLen+1:])
	if err != nil {
		return UniqueID{}, RowsetID{}, err
	}
	return uid, id, nil
}

// CheckRowsetMeta checks for the meta without decoding it.
func CheckRowsetMeta(ctx context.Context, store *kvstore.KVStore, tabletUID UniqueID, id RowsetID) bool {
	_, err := store.Get(ctx, kvstore.MetaColumnFamily, RowsetMetaKey(tabletUID, id))
	return err == nil
}

func GetRowsetMetaValue(ctx context.Context, store *kvstore.KVStore, tabletUID UniqueID, id RowsetID) ([]byte, error) {
	v, err := store.Get(ctx, kvstore.MetaColumnFamily, RowsetMetaKey(tabletUID, id))
	if moerr.IsMoErrCode(err, moerr.ErrNotFound) {
		return nil, moerr.NewRowsetNotFound(ctx, id.String())
	}
	return v, err
}

func GetRowsetMeta(ctx context.Context, store *kvstore.KVStore, tabletUID UniqueID, id RowsetID) (*Meta, error) {
	v, err := GetRowsetMetaValue(ctx, store, tabletUID, id)
	if err != nil {
		return nil, err
	}
	meta := &Meta{}
	if err := meta.Unmarshal(v); err != nil {
		return nil, err
	}
	return meta, nil
}

func SaveRowsetMeta(ctx context.Context, store *kvstore.KVStore, tabletUID UniqueID, meta *Meta) error {
	err := store.Put(ctx, kvstore.MetaColumnFamily, RowsetMetaKey(tabletUID, meta.RowsetID), meta.Marshal())
	if err != nil {
		logutil.Error("save rowset meta failed",
			logutil.RowsetField(meta.RowsetID.String()),
			logutil.ErrorField(err))
	}
	return err
}

func RemoveRowsetMeta(ctx context.Context, store *kvstore.KVStore, tabletUID UniqueID, id RowsetID) error {
	return store.Remove(ctx, kvstore.MetaColumnFamily, RowsetMetaKey(tabletUID, id))
}

// AddSaveRowsetMeta records a save into wb, for callers updating several
// keys atomically.
func AddSaveRowsetMeta(wb *kvstore.WriteBatch, tabletUID UniqueID, meta *Meta) {
	wb.Put(kvstore.MetaColumnFamily, RowsetMetaKey(tabletUID, meta.RowsetID), meta.Marshal())
}

func AddRemoveRowsetMeta(wb *kvstore.WriteBatch, tabletUID UniqueID, id RowsetID) {
	wb.Delete(kvstore.MetaColumnFamily, RowsetMetaKey(tabletUID, id))
}

// FlushRowsetMetas makes every saved meta durable.
func FlushRowsetMetas(ctx context.Context, store *kvstore.KVStore) error {
	return store.FlushWAL(ctx)
}

// TraverseRowsetMetas calls fn with the raw bytes of every persisted
// rowset meta until fn returns false.
func TraverseRowsetMetas(
	ctx context.Context,
	store *kvstore.KVStore,
	fn func(tabletUID UniqueID, id RowsetID, value []byte) bool,
) error {
	return store.Iterate(ctx, kvstore.MetaColumnFamily, []byte(RowsetMetaPrefix), func(key, value []byte) (bool, error) {
		uid, id, err := parseRowsetMetaKey(key)
		if err != nil {
			logutil.Warn("skip malformed rowset meta key", logutil.ErrorField(err))
			return true, nil
		}
		return fn(uid, id, value), nil
	})
}

// AddRemoveRowset records into wb the removal of a rowset meta together
// with the del vectors of its segments.
func AddRemoveRowset(ctx context.Context, store *kvstore.KVStore, wb *kvstore.WriteBatch, meta *Meta) error {
	AddRemoveRowsetMeta(wb, meta.TabletUID, meta.RowsetID)
	for i := range meta.Segments {
		if err := delvector.AddDeleteDelVectors(ctx, store, wb, meta.TabletID, meta.SegmentID(i)); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRowsetBatch removes the metas and del vectors of rowsets in one
// batch.
func RemoveRowsetBatch(ctx context.Context, store *kvstore.KVStore, metas []*Meta) error {
	wb := kvstore.NewWriteBatch()
	for _, meta := range metas {
		if err := AddRemoveRowset(ctx, store, wb, meta); err != nil {
			return err
		}
	}
	return store.WriteBatch(ctx, wb)
}
