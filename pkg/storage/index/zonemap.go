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
	"fmt"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	v2 "github.com/matrixorigin/colstore/pkg/util/metric"
)

// ZoneMap summarizes the values of a page or a segment. Min and Max are
// memcomparable encodings and are only defined when HasNotNull is set.
type ZoneMap struct {
	Min        []byte
	Max        []byte
	HasNull    bool
	HasNotNull bool
}

func (zm *ZoneMap) Update(val []byte) {
	if !zm.HasNotNull {
		zm.Min = append(zm.Min[:0], val...)
		zm.Max = append(zm.Max[:0], val...)
		zm.HasNotNull = true
		return
	}
	if bytes.Compare(val, zm.Min) < 0 {
		zm.Min = append(zm.Min[:0], val...)
	}
	if bytes.Compare(val, zm.Max) > 0 {
		zm.Max = append(zm.Max[:0], val...)
	}
}

func (zm *ZoneMap) Merge(o *ZoneMap) {
	zm.HasNull = zm.HasNull || o.HasNull
	if !o.HasNotNull {
		return
	}
	zm.Update(o.Min)
	zm.Update(o.Max)
}

func (zm *ZoneMap) Reset() {
	zm.Min = zm.Min[:0]
	zm.Max = zm.Max[:0]
	zm.HasNull = false
	zm.HasNotNull = false
}

func (zm *ZoneMap) Clone() ZoneMap {
	return ZoneMap{
		Min:        append([]byte(nil), zm.Min...),
		Max:        append([]byte(nil), zm.Max...),
		HasNull:    zm.HasNull,
		HasNotNull: zm.HasNotNull,
	}
}

// MayContain reports whether val can be in the zone.
func (zm *ZoneMap) MayContain(val []byte) bool {
	if !zm.HasNotNull {
		return false
	}
	return bytes.Compare(val, zm.Min) >= 0 && bytes.Compare(val, zm.Max) <= 0
}

// MayIntersect reports whether some value of the zone can fall in the
// range. A nil bound is unbounded.
func (zm *ZoneMap) MayIntersect(lower []byte, lowerInclusive bool, upper []byte, upperInclusive bool) bool {
	if !zm.HasNotNull {
		return false
	}
	if lower != nil {
		c := bytes.Compare(zm.Max, lower)
		if c < 0 || (c == 0 && !lowerInclusive) {
			return false
		}
	}
	if upper != nil {
		c := bytes.Compare(zm.Min, upper)
		if c > 0 || (c == 0 && !upperInclusive) {
			return false
		}
	}
	return true
}

func (zm *ZoneMap) String(t types.T) string {
	if !zm.HasNotNull {
		return fmt.Sprintf("ZM(null=%v)", zm.HasNull)
	}
	return fmt.Sprintf("ZM[%s, %s](null=%v)", types.FormatValue(zm.Min, t), types.FormatValue(zm.Max, t), zm.HasNull)
}

const (
	fieldZMMin = iota + 1
	fieldZMMax
	fieldZMHasNull
	fieldZMHasNotNull
)

func (zm *ZoneMap) encoder() *encoding.Encoder {
	e := encoding.NewEncoder()
	if zm.HasNotNull {
		e.Bytes(fieldZMMin, zm.Min).Bytes(fieldZMMax, zm.Max)
	}
	return e.Bool(fieldZMHasNull, zm.HasNull).Bool(fieldZMHasNotNull, zm.HasNotNull)
}

func (zm *ZoneMap) unmarshal(data []byte) error {
	*zm = ZoneMap{}
	d := encoding.NewDecoder("zone map", data)
	for d.Next() {
		switch d.Field() {
		case fieldZMMin:
			zm.Min = d.Bytes()
		case fieldZMMax:
			zm.Max = d.Bytes()
		case fieldZMHasNull:
			zm.HasNull = d.Bool()
		case fieldZMHasNotNull:
			zm.HasNotNull = d.Bool()
		default:
			d.Skip()
		}
	}
	return d.Err()
}

const (
	fieldZMIndexSegment = iota + 1
	fieldZMIndexPage
)

// ZoneMapWriter collects one zone map per data page plus the aggregate of
// the segment.
type ZoneMapWriter struct {
	typ     types.T
	page    ZoneMap
	segment ZoneMap
	pages   []ZoneMap
}

func NewZoneMapWriter(typ types.T) *ZoneMapWriter {
	return &ZoneMapWriter{typ: typ}
}

// AddValues adds rows [start, start+count) of v to the current page.
func (w *ZoneMapWriter) AddValues(v *vector.Vector, start, count int) {
	for i := start; i < start+count; i++ {
		if v.IsNull(i) {
			w.page.HasNull = true
			continue
		}
		w.page.Update(v.Get(i))
	}
}

func (w *ZoneMapWriter) AddNulls(count int) {
	if count > 0 {
		w.page.HasNull = true
	}
}

// Flush closes the current page.
func (w *ZoneMapWriter) Flush() {
	w.segment.Merge(&w.page)
	w.pages = append(w.pages, w.page.Clone())
	w.page.Reset()
}

func (w *ZoneMapWriter) NumPages() int {
	return len(w.pages)
}

func (w *ZoneMapWriter) SegmentZoneMap() ZoneMap {
	return w.segment.Clone()
}

func (w *ZoneMapWriter) Finish(fw *fileservice.FileWriter, codec compress.Codec) (IndexMeta, error) {
	e := encoding.NewEncoder().Message(fieldZMIndexSegment, w.segment.encoder())
	for i := range w.pages {
		e.Message(fieldZMIndexPage, w.pages[i].encoder())
	}
	pp, err := writeIndexPage(fw, codec, e.Marshal())
	if err != nil {
		return IndexMeta{}, err
	}
	return IndexMeta{
		Type:     ZoneMapIndex,
		Page:     pp,
		NumPages: uint32(len(w.pages)),
	}, nil
}

// ZoneMapReader loads a zone map index on first use.
type ZoneMapReader struct {
	gate    *loadGate
	segment ZoneMap
	pages   []ZoneMap
}

func NewZoneMapReader() *ZoneMapReader {
	return &ZoneMapReader{gate: newLoadGate()}
}

// Load reads the index once, concurrent callers wait for the first one.
func (r *ZoneMapReader) Load(ctx context.Context, opts LoadOptions, meta IndexMeta) (bool, error) {
	loadedByMe, err := r.gate.do(func() error {
		return r.doLoad(ctx, opts, meta)
	})
	if err != nil {
		return false, err
	}
	if loadedByMe {
		v2.ZoneMapLoadedCounter.Inc()
	} else {
		v2.ZoneMapWaitedCounter.Inc()
	}
	return loadedByMe, nil
}

func (r *ZoneMapReader) doLoad(ctx context.Context, opts LoadOptions, meta IndexMeta) error {
	raw, err := readIndexPage(ctx, opts, meta, ZoneMapIndex)
	if err != nil {
		return err
	}
	var segment ZoneMap
	pages := make([]ZoneMap, 0, meta.NumPages)
	d := encoding.NewDecoder("zone map index", raw)
	for d.Next() {
		switch d.Field() {
		case fieldZMIndexSegment:
			if err := segment.unmarshal(d.Bytes()); err != nil {
				return err
			}
		case fieldZMIndexPage:
			var zm ZoneMap
			if err := zm.unmarshal(d.Bytes()); err != nil {
				return err
			}
			pages = append(pages, zm)
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return err
	}
	if len(pages) != int(meta.NumPages) {
		return moerr.NewCorruption(ctx, "zone map index has %d pages, expect %d", len(pages), meta.NumPages)
	}
	r.segment, r.pages = segment, pages
	return nil
}

func (r *ZoneMapReader) Loaded() bool {
	return r.gate.loaded()
}

func (r *ZoneMapReader) NumPages() int {
	return len(r.pages)
}

func (r *ZoneMapReader) PageZoneMap(i int) *ZoneMap {
	return &r.pages[i]
}

func (r *ZoneMapReader) SegmentZoneMap() *ZoneMap {
	return &r.segment
}
