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

package compress

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

type Codec uint8

const (
	None Codec = iota
	Lz4
	Snappy
	Zstd
)

var codecNames = [...]string{
	None:   "none",
	Lz4:    "lz4",
	Snappy: "snappy",
	Zstd:   "zstd",
}

func (c Codec) String() string {
	if int(c) < len(codecNames) {
		return codecNames[c]
	}
	return "unknown"
}

func ParseCodec(s string) (Codec, error) {
	for i, name := range codecNames {
		if strings.EqualFold(name, s) {
			return Codec(i), nil
		}
	}
	return None, moerr.NewInvalidArgNoCtx("compression codec", s)
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Compress encodes src with c. The returned codec is the one actually used:
// lz4 falls back to None when the block does not shrink.
func Compress(c Codec, src []byte) ([]byte, Codec, error) {
	switch c {
	case None:
		return src, None, nil
	case Lz4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, c, moerr.AttachCause(moerr.NewInternalError(context.TODO(), "lz4 compress"), err)
		}
		if n == 0 || n >= len(src) {
			return src, None, nil
		}
		return dst[:n], Lz4, nil
	case Snappy:
		return snappy.Encode(nil, src), Snappy, nil
	case Zstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, c, moerr.AttachCause(moerr.NewInternalError(context.TODO(), "zstd encoder"), err)
		}
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(src, nil), Zstd, nil
	}
	return nil, c, moerr.NewNotSupported(context.TODO(), "compression codec %d", c)
}

// Decompress decodes src which was produced by Compress with codec c and
// must expand to exactly rawSize bytes.
func Decompress(c Codec, src []byte, rawSize int) ([]byte, error) {
	var (
		dst []byte
		err error
	)
	switch c {
	case None:
		dst = src
	case Lz4:
		dst = make([]byte, rawSize)
		var n int
		if n, err = lz4.UncompressBlock(src, dst); err == nil {
			dst = dst[:n]
		}
	case Snappy:
		dst, err = snappy.Decode(make([]byte, rawSize), src)
	case Zstd:
		var dec *zstd.Decoder
		if dec, err = getZstdDecoder(); err != nil {
			return nil, moerr.AttachCause(moerr.NewInternalError(context.TODO(), "zstd decoder"), err)
		}
		defer zstdDecoderPool.Put(dec)
		dst, err = dec.DecodeAll(src, make([]byte, 0, rawSize))
	default:
		return nil, moerr.NewNotSupported(context.TODO(), "compression codec %d", c)
	}
	if err != nil {
		return nil, moerr.AttachCause(moerr.NewCorruption(context.TODO(), "%s decompress failed", c), err)
	}
	if len(dst) != rawSize {
		return nil, moerr.NewCorruption(context.TODO(), "%s decompressed %d bytes, expect %d", c, len(dst), rawSize)
	}
	return dst, nil
}
