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

package tablet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/kvstore"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
)

type State uint8

const (
	StateNormal State = iota + 1
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateShutdown:
		return "SHUTDOWN"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type Meta struct {
	TabletID     int64
	TabletUID    rowset.UniqueID
	SchemaHash   int64
	Schema       Schema
	State        State
	CreationTime int64
}

func NewMeta(tabletID int64, schemaHash int64, schema Schema) *Meta {
	return &Meta{
		TabletID:     tabletID,
		TabletUID:    rowset.NewUniqueID(),
		SchemaHash:   schemaHash,
		Schema:       schema,
		State:        StateNormal,
		CreationTime: time.Now().Unix(),
	}
}

// SetState moves the tablet to state, a shutdown tablet stays shut down.
func (m *Meta) SetState(state State) error {
	if m.State == StateShutdown && state != StateShutdown {
		logutil.Warn("could not change tablet state from shutdown",
			logutil.TabletField(m.TabletID),
			zap.Stringer("state", state))
		return moerr.NewInvalidArgNoCtx("tablet state", fmt.Sprintf("%s to %s is forbidden", m.State, state))
	}
	m.State = state
	return nil
}

func (m *Meta) Clone() *Meta {
	c := *m
	c.Schema.Columns = append([]Column(nil), m.Schema.Columns...)
	return &c
}

const (
	fieldMetaTabletID = iota + 1
	fieldMetaTabletUIDHi
	fieldMetaTabletUIDLo
	fieldMetaSchemaHash
	fieldMetaSchema
	fieldMetaState
	fieldMetaCreationTime
)

func (m *Meta) Marshal() []byte {
	return encoding.NewEncoder().
		Int64(fieldMetaTabletID, m.TabletID).
		Int64(fieldMetaTabletUIDHi, m.TabletUID.Hi).
		Int64(fieldMetaTabletUIDLo, m.TabletUID.Lo).
		Int64(fieldMetaSchemaHash, m.SchemaHash).
		Message(fieldMetaSchema, m.Schema.encoder()).
		Uint64(fieldMetaState, uint64(m.State)).
		Int64(fieldMetaCreationTime, m.CreationTime).
		Marshal()
}

func (m *Meta) Unmarshal(data []byte) error {
	*m = Meta{}
	d := encoding.NewDecoder("tablet meta", data)
	for d.Next() {
		switch d.Field() {
		case fieldMetaTabletID:
			m.TabletID = d.Int64()
		case fieldMetaTabletUIDHi:
			m.TabletUID.Hi = d.Int64()
		case fieldMetaTabletUIDLo:
			m.TabletUID.Lo = d.Int64()
		case fieldMetaSchemaHash:
			m.SchemaHash = d.Int64()
		case fieldMetaSchema:
			b := d.Bytes()
			if d.Err() != nil {
				break
			}
			if err := m.Schema.unmarshal(b); err != nil {
				return err
			}
		case fieldMetaState:
			m.State = State(d.Uint64())
		case fieldMetaCreationTime:
			m.CreationTime = d.Int64()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

// TabletMetaPrefix starts every tablet meta key in the meta namespace.
const TabletMetaPrefix = "tabletmeta_"

// TabletMetaKey is "tabletmeta_" + tablet id + "_" + schema hash.
func TabletMetaKey(tabletID int64, schemaHash int64) []byte {
	return []byte(TabletMetaPrefix + strconv.FormatInt(tabletID, 10) + "_" + strconv.FormatInt(schemaHash, 10))
}

func parseTabletMetaKey(key []byte) (int64, int64, error) {
	rest := strings.TrimPrefix(string(key), TabletMetaPrefix)
	id, hash, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, moerr.NewCorruptionNoCtx("tablet meta key %s", key)
	}
	tabletID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, moerr.NewCorruptionNoCtx("tablet meta key %s", key)
	}
	schemaHash, err := strconv.ParseInt(hash, 10, 64)
	if err != nil {
		return 0, 0, moerr.NewCorruptionNoCtx("tablet meta key %s", key)
	}
	return tabletID, schemaHash, nil
}

func SaveTabletMeta(ctx context.Context, store *kvstore.KVStore, meta *Meta) error {
	return store.Put(ctx, kvstore.MetaColumnFamily, TabletMetaKey(meta.TabletID, meta.SchemaHash), meta.Marshal())
}

func AddSaveTabletMeta(wb *kvstore.WriteBatch, meta *Meta) {
	wb.Put(kvstore.MetaColumnFamily, TabletMetaKey(meta.TabletID, meta.SchemaHash), meta.Marshal())
}

func AddRemoveTabletMeta(wb *kvstore.WriteBatch, tabletID int64, schemaHash int64) {
	wb.Delete(kvstore.MetaColumnFamily, TabletMetaKey(tabletID, schemaHash))
}

func GetTabletMeta(ctx context.Context, store *kvstore.KVStore, tabletID int64, schemaHash int64) (*Meta, error) {
	v, err := store.Get(ctx, kvstore.MetaColumnFamily, TabletMetaKey(tabletID, schemaHash))
	if moerr.IsMoErrCode(err, moerr.ErrNotFound) {
		return nil, moerr.NewTabletNotFound(ctx, tabletID)
	}
	if err != nil {
		return nil, err
	}
	meta := &Meta{}
	if err := meta.Unmarshal(v); err != nil {
		return nil, err
	}
	return meta, nil
}

// TraverseTabletMetas calls fn with every persisted tablet meta until fn
// returns false. Undecodable entries are logged and skipped.
func TraverseTabletMetas(ctx context.Context, store *kvstore.KVStore, fn func(meta *Meta) bool) error {
	return store.Iterate(ctx, kvstore.MetaColumnFamily, []byte(TabletMetaPrefix), func(key, value []byte) (bool, error) {
		if _, _, err := parseTabletMetaKey(key); err != nil {
			logutil.Warn("skip malformed tablet meta key", logutil.ErrorField(err))
			return true, nil
		}
		meta := &Meta{}
		if err := meta.Unmarshal(value); err != nil {
			logutil.Warn("skip malformed tablet meta", logutil.ErrorField(err))
			return true, nil
		}
		return fn(meta), nil
	})
}
