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
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/FastFilter/xorfilter"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/minio/highwayhash"
	"github.com/samber/lo"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/container/vector"
	"github.com/matrixorigin/colstore/pkg/encoding"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	v2 "github.com/matrixorigin/colstore/pkg/util/metric"
)

// Algorithm selects the filter structure of a bloom filter index.
type Algorithm uint8

const (
	// BlockBloomFilter is a classic bloom filter sized from the page NDV.
	BlockBloomFilter Algorithm = iota + 1
	// BinaryFuseFilter is a static binary fuse filter, smaller for the
	// same false positive rate.
	BinaryFuseFilter
)

func (a Algorithm) String() string {
	switch a {
	case BlockBloomFilter:
		return "block"
	case BinaryFuseFilter:
		return "binary_fuse"
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "block":
		return BlockBloomFilter, nil
	case "binary_fuse":
		return BinaryFuseFilter, nil
	}
	return 0, moerr.NewInvalidArgNoCtx("bloom filter algorithm", s)
}

// HashStrategy selects how values are hashed before entering a filter.
type HashStrategy uint8

const (
	Murmur3Hash HashStrategy = iota + 1
	XXHash
	HighwayHash
)

func (h HashStrategy) String() string {
	switch h {
	case Murmur3Hash:
		return "murmur3"
	case XXHash:
		return "xxhash"
	case HighwayHash:
		return "highwayhash"
	}
	return fmt.Sprintf("HashStrategy(%d)", uint8(h))
}

func ParseHashStrategy(s string) (HashStrategy, error) {
	switch strings.ToLower(s) {
	case "murmur3":
		return Murmur3Hash, nil
	case "xxhash":
		return XXHash, nil
	case "highwayhash":
		return HighwayHash, nil
	}
	return 0, moerr.NewInvalidArgNoCtx("bloom filter hash strategy", s)
}

var highwayKey = []byte("colstore bloom filter highwaykey")

type hashFunc func(v []byte) uint64

func murmur3Sum64(v []byte) uint64 {
	return bloom.Locations(v, 1)[0]
}

func highwaySum64(v []byte) uint64 {
	return highwayhash.Sum64(v, highwayKey)
}

func (h HashStrategy) hashFunc() (hashFunc, error) {
	switch h {
	case Murmur3Hash:
		return murmur3Sum64, nil
	case XXHash:
		return xxhash.Sum64, nil
	case HighwayHash:
		return highwaySum64, nil
	}
	return nil, moerr.NewNotSupported(context.TODO(), "bloom filter hash strategy %s", h)
}

// Filter answers membership queries over hashed values. False positives
// are possible, false negatives are not.
type Filter interface {
	TestHash(h uint64) bool
	Marshal() ([]byte, error)
}

type blockFilter struct {
	*bloom.BloomFilter
}

func hashKey(h uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h)
	return buf[:]
}

func newBlockFilter(hashes []uint64, fpp float64) *blockFilter {
	n := uint(len(hashes))
	if n == 0 {
		n = 1
	}
	bf := bloom.NewWithEstimates(n, fpp)
	for _, h := range hashes {
		bf.Add(hashKey(h))
	}
	return &blockFilter{BloomFilter: bf}
}

func (f *blockFilter) TestHash(h uint64) bool {
	return f.Test(hashKey(h))
}

func (f *blockFilter) Marshal() ([]byte, error) {
	var w bytes.Buffer
	if _, err := f.WriteTo(&w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func unmarshalBlockFilter(data []byte) (*blockFilter, error) {
	bf := bloom.New(1, 1)
	if _, err := bf.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, moerr.AttachCause(moerr.NewCorruptionNoCtx("block bloom filter"), err)
	}
	return &blockFilter{BloomFilter: bf}, nil
}

// fuseFilter wraps a binary fuse filter, nil inner means no key at all.
type fuseFilter struct {
	inner *xorfilter.BinaryFuse8
}

func newFuseFilter(hashes []uint64) (*fuseFilter, error) {
	hashes = lo.Uniq(hashes)
	if len(hashes) == 0 {
		return &fuseFilter{}, nil
	}
	inner, err := xorfilter.PopulateBinaryFuse8(hashes)
	if err != nil {
		return nil, moerr.AttachCause(moerr.NewInternalErrorNoCtx("build binary fuse filter"), err)
	}
	return &fuseFilter{inner: inner}, nil
}

func (f *fuseFilter) TestHash(h uint64) bool {
	if f.inner == nil {
		return false
	}
	return f.inner.Contains(h)
}

const (
	fieldFuseSeed = iota + 1
	fieldFuseSegmentLength
	fieldFuseSegmentLengthMask
	fieldFuseSegmentCount
	fieldFuseSegmentCountLength
	fieldFuseFingerprints
)

func (f *fuseFilter) Marshal() ([]byte, error) {
	if f.inner == nil {
		return encoding.NewEncoder().Marshal(), nil
	}
	return encoding.NewEncoder().
		Uint64(fieldFuseSeed, f.inner.Seed).
		Uint64(fieldFuseSegmentLength, uint64(f.inner.SegmentLength)).
		Uint64(fieldFuseSegmentLengthMask, uint64(f.inner.SegmentLengthMask)).
		Uint64(fieldFuseSegmentCount, uint64(f.inner.SegmentCount)).
		Uint64(fieldFuseSegmentCountLength, uint64(f.inner.SegmentCountLength)).
		Bytes(fieldFuseFingerprints, f.inner.Fingerprints).
		Marshal(), nil
}

func unmarshalFuseFilter(data []byte) (*fuseFilter, error) {
	inner := &xorfilter.BinaryFuse8{}
	empty := true
	d := encoding.NewDecoder("binary fuse filter", data)
	for d.Next() {
		empty = false
		switch d.Field() {
		case fieldFuseSeed:
			inner.Seed = d.Uint64()
		case fieldFuseSegmentLength:
			inner.SegmentLength = uint32(d.Uint64())
		case fieldFuseSegmentLengthMask:
			inner.SegmentLengthMask = uint32(d.Uint64())
		case fieldFuseSegmentCount:
			inner.SegmentCount = uint32(d.Uint64())
		case fieldFuseSegmentCountLength:
			inner.SegmentCountLength = uint32(d.Uint64())
		case fieldFuseFingerprints:
			inner.Fingerprints = d.Bytes()
		default:
			d.Skip()
		}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if empty {
		return &fuseFilter{}, nil
	}
	if err := checkFuseGeometry(inner); err != nil {
		return nil, err
	}
	return &fuseFilter{inner: inner}, nil
}

// checkFuseGeometry rejects filters whose lookups would index past the
// fingerprints: a lookup reads up to two segments beyond the one its hash
// selects.
func checkFuseGeometry(f *xorfilter.BinaryFuse8) error {
	l, n := uint64(f.SegmentLength), uint64(f.SegmentCount)
	switch {
	case l == 0 || l&(l-1) != 0:
		return moerr.NewCorruptionNoCtx("binary fuse filter segment length %d", l)
	case uint64(f.SegmentLengthMask) != l-1:
		return moerr.NewCorruptionNoCtx("binary fuse filter segment mask %d", f.SegmentLengthMask)
	case n == 0 || uint64(f.SegmentCountLength) != n*l:
		return moerr.NewCorruptionNoCtx("binary fuse filter segment count %d", n)
	case uint64(len(f.Fingerprints)) < (n+2)*l:
		return moerr.NewCorruptionNoCtx("binary fuse filter has %d fingerprints, expect %d",
			len(f.Fingerprints), (n+2)*l)
	}
	return nil
}

func buildFilter(algorithm Algorithm, hashes []uint64, fpp float64) (Filter, error) {
	switch algorithm {
	case BlockBloomFilter:
		return newBlockFilter(hashes, fpp), nil
	case BinaryFuseFilter:
		return newFuseFilter(hashes)
	}
	return nil, moerr.NewNotSupported(context.TODO(), "bloom filter algorithm %s", algorithm)
}

func unmarshalFilter(algorithm Algorithm, data []byte) (Filter, error) {
	switch algorithm {
	case BlockBloomFilter:
		return unmarshalBlockFilter(data)
	case BinaryFuseFilter:
		return unmarshalFuseFilter(data)
	}
	return nil, moerr.NewNotSupported(context.TODO(), "bloom filter algorithm %s", algorithm)
}

type BloomFilterOptions struct {
	Algorithm    Algorithm
	HashStrategy HashStrategy
	// Fpp is the target false positive rate of block filters.
	Fpp float64
}

const (
	fieldBFPageHasNull = iota + 1
	fieldBFPageFilter
)

const fieldBFIndexPage = 1

// BloomFilterWriter builds one filter per data page.
type BloomFilterWriter struct {
	opts    BloomFilterOptions
	hash    hashFunc
	hashes  []uint64
	hasNull bool
	pages   [][]byte
}

func NewBloomFilterWriter(opts BloomFilterOptions) (*BloomFilterWriter, error) {
	hash, err := opts.HashStrategy.hashFunc()
	if err != nil {
		return nil, err
	}
	if opts.Algorithm != BlockBloomFilter && opts.Algorithm != BinaryFuseFilter {
		return nil, moerr.NewNotSupported(context.TODO(), "bloom filter algorithm %s", opts.Algorithm)
	}
	if opts.Fpp <= 0 || opts.Fpp >= 1 {
		return nil, moerr.NewInvalidArgNoCtx("bloom filter fpp", opts.Fpp)
	}
	return &BloomFilterWriter{opts: opts, hash: hash}, nil
}

func (w *BloomFilterWriter) AddValues(v *vector.Vector, start, count int) {
	for i := start; i < start+count; i++ {
		if v.IsNull(i) {
			w.hasNull = true
			continue
		}
		w.hashes = append(w.hashes, w.hash(v.Get(i)))
	}
}

func (w *BloomFilterWriter) AddNulls(count int) {
	if count > 0 {
		w.hasNull = true
	}
}

// Flush builds the filter of the current page.
func (w *BloomFilterWriter) Flush() error {
	f, err := buildFilter(w.opts.Algorithm, lo.Uniq(w.hashes), w.opts.Fpp)
	if err != nil {
		return err
	}
	data, err := f.Marshal()
	if err != nil {
		return err
	}
	w.pages = append(w.pages, encoding.NewEncoder().
		Bool(fieldBFPageHasNull, w.hasNull).
		Bytes(fieldBFPageFilter, data).
		Marshal())
	w.hashes = w.hashes[:0]
	w.hasNull = false
	return nil
}

func (w *BloomFilterWriter) NumPages() int {
	return len(w.pages)
}

func (w *BloomFilterWriter) Finish(fw *fileservice.FileWriter, codec compress.Codec) (IndexMeta, error) {
	e := encoding.NewEncoder()
	for _, p := range w.pages {
		e.Bytes(fieldBFIndexPage, p)
	}
	pp, err := writeIndexPage(fw, codec, e.Marshal())
	if err != nil {
		return IndexMeta{}, err
	}
	return IndexMeta{
		Type:         BloomFilterIndex,
		Page:         pp,
		NumPages:     uint32(len(w.pages)),
		Algorithm:    w.opts.Algorithm,
		HashStrategy: w.opts.HashStrategy,
	}, nil
}

type bloomPage struct {
	hasNull bool
	filter  Filter
}

// BloomFilterReader loads a bloom filter index on first use.
type BloomFilterReader struct {
	gate  *loadGate
	hash  hashFunc
	pages []bloomPage
}

func NewBloomFilterReader() *BloomFilterReader {
	return &BloomFilterReader{gate: newLoadGate()}
}

func (r *BloomFilterReader) Load(ctx context.Context, opts LoadOptions, meta IndexMeta) (bool, error) {
	loadedByMe, err := r.gate.do(func() error {
		return r.doLoad(ctx, opts, meta)
	})
	if err != nil {
		return false, err
	}
	if loadedByMe {
		v2.BloomFilterLoadedCounter.Inc()
	} else {
		v2.BloomFilterWaitedCounter.Inc()
	}
	return loadedByMe, nil
}

func (r *BloomFilterReader) doLoad(ctx context.Context, opts LoadOptions, meta IndexMeta) error {
	hash, err := meta.HashStrategy.hashFunc()
	if err != nil {
		return err
	}
	raw, err := readIndexPage(ctx, opts, meta, BloomFilterIndex)
	if err != nil {
		return err
	}
	pages := make([]bloomPage, 0, meta.NumPages)
	d := encoding.NewDecoder("bloom filter index", raw)
	for d.Next() {
		if d.Field() != fieldBFIndexPage {
			d.Skip()
			continue
		}
		var p bloomPage
		pd := encoding.NewDecoder("bloom filter page", d.Bytes())
		for pd.Next() {
			switch pd.Field() {
			case fieldBFPageHasNull:
				p.hasNull = pd.Bool()
			case fieldBFPageFilter:
				data := pd.Bytes()
				if pd.Err() != nil {
					break
				}
				if p.filter, err = unmarshalFilter(meta.Algorithm, data); err != nil {
					return err
				}
			default:
				pd.Skip()
			}
		}
		if err := pd.Err(); err != nil {
			return err
		}
		if p.filter == nil {
			return moerr.NewCorruption(ctx, "bloom filter page without filter")
		}
		pages = append(pages, p)
	}
	if err := d.Err(); err != nil {
		return err
	}
	if len(pages) != int(meta.NumPages) {
		return moerr.NewCorruption(ctx, "bloom filter index has %d pages, expect %d", len(pages), meta.NumPages)
	}
	r.hash = hash
	r.pages = pages
	return nil
}

func (r *BloomFilterReader) Loaded() bool {
	return r.gate.loaded()
}

func (r *BloomFilterReader) NumPages() int {
	return len(r.pages)
}

// PageMayContain tests the filter of page i with an encoded value.
func (r *BloomFilterReader) PageMayContain(i int, val []byte) bool {
	return r.pages[i].filter.TestHash(r.hash(val))
}

func (r *BloomFilterReader) PageHasNull(i int) bool {
	return r.pages[i].hasNull
}
