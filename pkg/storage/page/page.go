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

package page

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
)

type Type uint8

const (
	TypeData Type = iota + 1
	TypeIndex
	TypeFooter
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeIndex:
		return "index"
	case TypeFooter:
		return "footer"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// A page is laid out as
//
//	| body | raw size u32 | codec u8 | type u8 | crc32c u32 |
//
// body is the raw content compressed with codec, the crc covers every
// byte before it.
const TrailerSize = 4 + 1 + 1 + 4

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Encode compresses raw with codec and appends the trailer.
func Encode(typ Type, codec compress.Codec, raw []byte) ([]byte, error) {
	body, used, err := compress.Compress(codec, raw)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(body)+TrailerSize)
	n := copy(buf, body)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(raw)))
	buf[n+4] = byte(used)
	buf[n+5] = byte(typ)
	binary.LittleEndian.PutUint32(buf[n+6:], crc32.Checksum(buf[:n+6], crcTable))
	return buf, nil
}

// Decode verifies the trailer of data and returns the page type and the
// decompressed content.
func Decode(data []byte) (Type, []byte, error) {
	ctx := context.TODO()
	if len(data) < TrailerSize {
		return 0, nil, moerr.NewCorruption(ctx, "page of %d bytes is truncated", len(data))
	}
	n := len(data) - TrailerSize
	expected := binary.LittleEndian.Uint32(data[n+6:])
	if actual := crc32.Checksum(data[:n+6], crcTable); actual != expected {
		return 0, nil, moerr.NewCorruption(ctx, "page checksum mismatch, expected %08x, actual %08x", expected, actual)
	}
	rawSize := int(binary.LittleEndian.Uint32(data[n:]))
	codec := compress.Codec(data[n+4])
	typ := Type(data[n+5])
	raw, err := compress.Decompress(codec, data[:n], rawSize)
	if err != nil {
		return 0, nil, err
	}
	return typ, raw, nil
}

// DecodeExpect is Decode that also checks the page type.
func DecodeExpect(expected Type, data []byte) ([]byte, error) {
	typ, raw, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if typ != expected {
		return nil, moerr.NewCorruption(context.TODO(), "expect %s page, got %s", expected, typ)
	}
	return raw, nil
}
