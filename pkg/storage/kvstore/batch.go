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

type batchOp struct {
	cf     ColumnFamilyIndex
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch collects puts and deletes across namespaces to be applied
// atomically by KVStore.WriteBatch. Keys and values are copied.
type WriteBatch struct {
	ops []batchOp
}

func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func (wb *WriteBatch) Put(cf ColumnFamilyIndex, key, value []byte) {
	wb.ops = append(wb.ops, batchOp{
		cf:    cf,
		key:   append([]byte(nil), key...),
		value: append([]byte{}, value...),
	})
}

func (wb *WriteBatch) Delete(cf ColumnFamilyIndex, key []byte) {
	wb.ops = append(wb.ops, batchOp{
		cf:     cf,
		key:    append([]byte(nil), key...),
		delete: true,
	})
}

// Merge appends every operation of o.
func (wb *WriteBatch) Merge(o *WriteBatch) {
	wb.ops = append(wb.ops, o.ops...)
}

func (wb *WriteBatch) Count() int {
	return len(wb.ops)
}

func (wb *WriteBatch) Reset() {
	wb.ops = wb.ops[:0]
}
