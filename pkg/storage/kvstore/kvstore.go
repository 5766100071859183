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

package kvstore

import (
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/logutil"
	v2 "github.com/matrixorigin/colstore/pkg/util/metric"
)

// ColumnFamilyIndex selects one key namespace of the store. Pebble has no
// native column families, every namespace owns a one byte key prefix.
type ColumnFamilyIndex uint8

const (
	DefaultColumnFamily ColumnFamilyIndex = iota
	BetaColumnFamily
	MetaColumnFamily
	NumColumnFamilies
)

var columnFamilyNames = [NumColumnFamilies]string{"default", "beta", "meta"}

func (cf ColumnFamilyIndex) String() string {
	if cf >= NumColumnFamilies {
		return "unknown"
	}
	return columnFamilyNames[cf]
}

func (cf ColumnFamilyIndex) valid() bool {
	return cf < NumColumnFamilies
}

// KVStore is the metadata store of one data directory.
type KVStore struct {
	root string

	mu struct {
		sync.RWMutex
		db *pebble.DB
	}
	readOnly       bool
	iterateTimeout time.Duration
}

func NewKVStore(root string) *KVStore {
	return &KVStore{root: root}
}

func (s *KVStore) RootPath() string {
	return s.root
}

func (s *KVStore) ReadOnly() bool {
	return s.readOnly
}

// SetIterateTimeout bounds every Iterate call, zero means no bound.
func (s *KVStore) SetIterateTimeout(d time.Duration) {
	s.iterateTimeout = d
}

// Init opens the store, creating it unless readOnly is set.
func (s *KVStore) Init(ctx context.Context, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.db != nil {
		return moerr.NewInvalidState(ctx, "kv store %s is already open", s.root)
	}
	if !readOnly {
		if err := os.MkdirAll(s.root, 0755); err != nil {
			return moerr.NewIOError(ctx, s.root, err)
		}
	}
	opts := &pebble.Options{
		ReadOnly:         readOnly,
		ErrorIfNotExists: readOnly,
		Logger:           logutil.GetGlobalLogger().Named("pebble").Sugar(),
	}
	db, err := pebble.Open(s.root, opts)
	if err != nil {
		logutil.Error("open kv store failed", logutil.PathField(s.root), logutil.ErrorField(err))
		return s.wrapError(ctx, err)
	}
	s.mu.db = db
	s.readOnly = readOnly
	logutil.Info("kv store opened", logutil.PathField(s.root), zap.Bool("read-only", readOnly))
	return nil
}

func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.db == nil {
		return nil
	}
	err := s.mu.db.Close()
	s.mu.db = nil
	if err != nil {
		return s.wrapError(context.TODO(), err)
	}
	return nil
}

func (s *KVStore) getDB(ctx context.Context) (*pebble.DB, error) {
	if s.mu.db == nil {
		return nil, moerr.NewInvalidState(ctx, "kv store %s is not open", s.root)
	}
	return s.mu.db, nil
}

func (s *KVStore) checkWritable(ctx context.Context) error {
	if s.readOnly {
		return moerr.NewNotSupported(ctx, "write to read-only kv store %s", s.root)
	}
	return nil
}

func (s *KVStore) wrapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*moerr.Error); ok {
		return err
	}
	if pebble.IsCorruptionError(err) {
		return moerr.AttachCause(moerr.NewCorruption(ctx, "kv store %s", s.root), err)
	}
	return moerr.NewIOError(ctx, s.root, err)
}

func encodeKey(cf ColumnFamilyIndex, key []byte) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, byte(cf))
	return append(k, key...)
}

// cfUpperBound is the exclusive end of the whole namespace.
func cfUpperBound(cf ColumnFamilyIndex) []byte {
	return []byte{byte(cf) + 1}
}

// PrefixUpperBound returns the smallest key greater than every key with
// the given prefix, nil if there is none.
func PrefixUpperBound(k []byte) []byte {
	u := make([]byte, len(k))
	copy(u, k)
	for i := len(u) - 1; i >= 0; i-- {
		u[i] = u[i] + 1
		if u[i] != 0 {
			return u[:i+1]
		}
	}
	return nil
}

// Get returns a copy of the value, NotFound if the key is absent.
func (s *KVStore) Get(ctx context.Context, cf ColumnFamilyIndex, key []byte) ([]byte, error) {
	if !cf.valid() {
		return nil, moerr.NewInvalidArg(ctx, "column family", cf)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return nil, err
	}
	v2.KVGetCounter.Inc()
	v, closer, err := db.Get(encodeKey(cf, key))
	if err == pebble.ErrNotFound {
		return nil, moerr.NewNotFound(ctx, "key %q in %s", key, cf)
	}
	if err != nil {
		return nil, s.wrapError(ctx, err)
	}
	r := make([]byte, len(v))
	copy(r, v)
	closer.Close()
	return r, nil
}

func (s *KVStore) Put(ctx context.Context, cf ColumnFamilyIndex, key, value []byte) error {
	if !cf.valid() {
		return moerr.NewInvalidArg(ctx, "column family", cf)
	}
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	v2.KVPutCounter.Inc()
	return s.wrapError(ctx, db.Set(encodeKey(cf, key), value, pebble.Sync))
}

// Remove deletes key, a missing key is not an error.
func (s *KVStore) Remove(ctx context.Context, cf ColumnFamilyIndex, key []byte) error {
	if !cf.valid() {
		return moerr.NewInvalidArg(ctx, "column family", cf)
	}
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	v2.KVDeleteCounter.Inc()
	return s.wrapError(ctx, db.Delete(encodeKey(cf, key), pebble.Sync))
}

// WriteBatch applies every operation of wb atomically.
func (s *KVStore) WriteBatch(ctx context.Context, wb *WriteBatch) error {
	if wb == nil || wb.Count() == 0 {
		return nil
	}
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	b := db.NewBatch()
	defer b.Close()
	for _, op := range wb.ops {
		key := encodeKey(op.cf, op.key)
		if op.delete {
			err = b.Delete(key, nil)
		} else {
			err = b.Set(key, op.value, nil)
		}
		if err != nil {
			return s.wrapError(ctx, err)
		}
	}
	v2.KVBatchCounter.Inc()
	return s.wrapError(ctx, b.Commit(pebble.Sync))
}

// Visitor is called with every key/value under iteration, returning false
// stops the iteration. key and value are only valid during the call.
type Visitor func(key, value []byte) (bool, error)

// Iterate visits every key of cf starting with prefix, in key order.
func (s *KVStore) Iterate(ctx context.Context, cf ColumnFamilyIndex, prefix []byte, fn Visitor) error {
	lower := encodeKey(cf, prefix)
	upper := PrefixUpperBound(lower)
	return s.iterate(ctx, cf, lower, upper, fn)
}

// IterateRange visits the keys of cf in [lower, upper), a nil upper means
// the end of the namespace.
func (s *KVStore) IterateRange(ctx context.Context, cf ColumnFamilyIndex, lower, upper []byte, fn Visitor) error {
	var u []byte
	if upper == nil {
		u = cfUpperBound(cf)
	} else {
		u = encodeKey(cf, upper)
	}
	return s.iterate(ctx, cf, encodeKey(cf, lower), u, fn)
}

func (s *KVStore) iterate(ctx context.Context, cf ColumnFamilyIndex, lower, upper []byte, fn Visitor) error {
	if !cf.valid() {
		return moerr.NewInvalidArg(ctx, "column family", cf)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	v2.KVIterateCounter.Inc()
	start := time.Now()
	defer func() {
		v2.KVIterateDurationHistogram.Observe(time.Since(start).Seconds())
	}()

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return s.wrapError(ctx, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.iterateTimeout > 0 && time.Since(start) > s.iterateTimeout {
			logutil.Warn("kv store iterate timeout",
				logutil.PathField(s.root),
				zap.String("column-family", cf.String()),
				logutil.DurationField(s.iterateTimeout))
			return moerr.NewTimeout(ctx, "kv store iterate")
		}
		goOn, err := fn(iter.Key()[1:], iter.Value())
		if err != nil {
			return err
		}
		if !goOn {
			break
		}
	}
	return s.wrapError(ctx, iter.Error())
}

// Compact asks the engine to compact every namespace.
func (s *KVStore) Compact(ctx context.Context) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	for cf := DefaultColumnFamily; cf < NumColumnFamilies; cf++ {
		if err := db.Compact([]byte{byte(cf)}, cfUpperBound(cf), true); err != nil {
			return s.wrapError(ctx, err)
		}
	}
	logutil.Info("kv store compacted", logutil.PathField(s.root))
	return nil
}

// FlushWAL syncs the write ahead log.
func (s *KVStore) FlushWAL(ctx context.Context) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	return s.wrapError(ctx, db.LogData(nil, pebble.Sync))
}

// Flush persists the memtable to sstables.
func (s *KVStore) Flush(ctx context.Context) error {
	if err := s.checkWritable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, err := s.getDB(ctx)
	if err != nil {
		return err
	}
	return s.wrapError(ctx, db.Flush())
}

// OptDeleteRange removes every key of cf in [begin, end). It collects the
// keys with a scan first and deletes them as point deletes in one batch,
// range tombstones would slow every later scan over the namespace.
func (s *KVStore) OptDeleteRange(ctx context.Context, cf ColumnFamilyIndex, begin, end []byte) error {
	if bytes.Compare(begin, end) >= 0 {
		return moerr.NewInvalidArg(ctx, "delete range", string(begin)+"-"+string(end))
	}
	wb := NewWriteBatch()
	err := s.IterateRange(ctx, cf, begin, end, func(key, _ []byte) (bool, error) {
		wb.Delete(cf, key)
		return true, nil
	})
	if err != nil {
		return err
	}
	v2.KVRangeDeleteCounter.Inc()
	return s.WriteBatch(ctx, wb)
}
