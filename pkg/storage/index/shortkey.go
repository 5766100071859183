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
	"bytes"
	"context"
	"sort"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	v2 "github.com/matrixorigin/colstore/pkg/util/metric"
)

const (
	fieldSKNumRows = iota + 1
	fieldSKKey
	fieldSKOrdinal
)

// ShortKeyWriter collects sampled (key, first ordinal) pairs. Keys must
// arrive in ascending order.
type ShortKeyWriter struct {
	keys     [][]byte
	ordinals []uint32
}

func NewShortKeyWriter() *ShortKeyWriter {
	return &ShortKeyWriter{}
}

// AddItem records that the rows starting at ordinal begin with key. A key
// equal to the previous one is dropped so entries stay strictly ordered.
func (w *ShortKeyWriter) AddItem(key []byte, ordinal uint32) error {
	if n := len(w.keys); n > 0 {
		c := bytes.Compare(key, w.keys[n-1])
		if c == 0 {
			return nil
		}
		if c < 0 {
			return moerr.NewInvalidInput(context.TODO(), "short key %x is less than the previous one", key)
		}
	}
	w.keys = append(w.keys, append([]byte(nil), key...))
	w.ordinals = append(w.ordinals, ordinal)
	return nil
}

func (w *ShortKeyWriter) NumItems() int {
	return len(w.keys)
}

func (w *ShortKeyWriter) Finish(fw *fileservice.FileWriter, codec compress.Codec, numRows uint32) (IndexMeta, error) {
	e := encoding.NewEncoder().Uint64(fieldSKNumRows, uint64(numRows))
	for i := range w.keys {
		e.Bytes(fieldSKKey, w.keys[i]).Uint64(fieldSKOrdinal, uint64(w.ordinals[i]))
	}
	pp, err := writeIndexPage(fw, codec, e.Marshal())
	if err != nil {
		return IndexMeta{}, err
	}
	return IndexMeta{
		Type:     ShortKeyIndex,
		Page:     pp,
		NumPages: uint32(len(w.keys)),
	}, nil
}

// ShortKeyReader loads a short key index on first use.
type ShortKeyReader struct {
	gate     *loadGate
	numRows  uint32
	keys     [][]byte
	ordinals []uint32
}

func NewShortKeyReader() *ShortKeyReader {
	return &ShortKeyReader{gate: newLoadGate()}
}

func (r *ShortKeyReader) Load(ctx context.Context, opts LoadOptions, meta IndexMeta) (bool, error) {
	loadedByMe, err := r.gate.do(func() error {
		return r.doLoad(ctx, opts, meta)
	})
	if err != nil {
		return false, err
	}
	if loadedByMe {
		v2.ShortKeyLoadedCounter.Inc()
	} else {
		v2.ShortKeyWaitedCounter.Inc()
	}
	return loadedByMe, nil
}

func (r *ShortKeyReader) doLoad(ctx context.Context, opts LoadOptions, meta IndexMeta) error {
	raw, err := readIndexPage(ctx, opts, meta, ShortKeyIndex)
	if err != nil {
		return err
	}
	keys := make([][]byte, 0, meta.NumPages)
	ordinals := make([]uint32, 0, meta.NumPages)
	var numRows uint32
	d := encoding.NewDecoder("short key index", raw)
	for d.Next() {
		switch d.Field() {
		case fieldSKNumRows:
			numRows = uint32(d.Uint64())
		case fieldSKKey:
			keys = append(keys, d.Bytes())
		case fieldSKOrdinal:
			ordinals = append(ordinals, uint32(d.Uint64()))
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return err
	}
	if len(keys) != len(ordinals) || len(keys) != int(meta.NumPages) {
		return moerr.NewCorruption(ctx, "short key index has %d keys and %d ordinals, expect %d",
			len(keys), len(ordinals), meta.NumPages)
	}
	r.numRows = numRows
	r.keys = keys
	r.ordinals = ordinals
	return nil
}

func (r *ShortKeyReader) Loaded() bool {
	return r.gate.loaded()
}

func (r *ShortKeyReader) NumItems() int {
	return len(r.keys)
}

// NumRows is the row count of the indexed segment.
func (r *ShortKeyReader) NumRows() uint32 {
	return r.numRows
}

func (r *ShortKeyReader) Begin() ShortKeyIterator {
	return ShortKeyIterator{r: r}
}

// LowerBound returns the first entry whose key is >= key.
func (r *ShortKeyReader) LowerBound(key []byte) ShortKeyIterator {
	pos := sort.Search(len(r.keys), func(i int) bool {
		return bytes.Compare(r.keys[i], key) >= 0
	})
	return ShortKeyIterator{r: r, pos: pos}
}

// UpperBound returns the first entry whose key is > key.
func (r *ShortKeyReader) UpperBound(key []byte) ShortKeyIterator {
	pos := sort.Search(len(r.keys), func(i int) bool {
		return bytes.Compare(r.keys[i], key) > 0
	})
	return ShortKeyIterator{r: r, pos: pos}
}

// ShortKeyIterator is a position in a loaded short key index. The end
// position is not Valid.
type ShortKeyIterator struct {
	r   *ShortKeyReader
	pos int
}

func (it ShortKeyIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.r.keys)
}

func (it ShortKeyIterator) Key() []byte {
	return it.r.keys[it.pos]
}

// Ordinal is the first row ordinal the entry anchors.
func (it ShortKeyIterator) Ordinal() uint32 {
	return it.r.ordinals[it.pos]
}

// EndOrdinal is the ordinal where the next entry starts, or the segment
// row count for the last entry.
func (it ShortKeyIterator) EndOrdinal() uint32 {
	if it.pos+1 < len(it.r.ordinals) {
		return it.r.ordinals[it.pos+1]
	}
	return it.r.numRows
}

func (it ShortKeyIterator) Pos() int {
	return it.pos
}

func (it *ShortKeyIterator) Next() {
	it.pos++
}

func (it *ShortKeyIterator) Prev() {
	it.pos--
}
