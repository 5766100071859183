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

package encoding

import (
	"context"

	"github.com/gogo/protobuf/proto"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// Wire types of the protobuf encoding used by descriptors.
const (
	WireVarint = 0
	WireBytes  = 2
)

// Encoder writes protobuf wire format fields. The encoded message is
// prefixed with its field count so a decoder knows where it ends without
// an outer length.
type Encoder struct {
	body   *proto.Buffer
	fields uint64
}

func NewEncoder() *Encoder {
	return &Encoder{body: proto.NewBuffer(nil)}
}

func (e *Encoder) key(field, wire int) {
	_ = e.body.EncodeVarint(uint64(field)<<3 | uint64(wire))
	e.fields++
}

func (e *Encoder) Uint64(field int, v uint64) *Encoder {
	e.key(field, WireVarint)
	_ = e.body.EncodeVarint(v)
	return e
}

func (e *Encoder) Int64(field int, v int64) *Encoder {
	return e.Uint64(field, uint64(v))
}

func (e *Encoder) Bool(field int, v bool) *Encoder {
	if v {
		return e.Uint64(field, 1)
	}
	return e.Uint64(field, 0)
}

func (e *Encoder) Bytes(field int, b []byte) *Encoder {
	e.key(field, WireBytes)
	_ = e.body.EncodeRawBytes(b)
	return e
}

func (e *Encoder) String(field int, s string) *Encoder {
	e.key(field, WireBytes)
	_ = e.body.EncodeStringBytes(s)
	return e
}

// Message embeds a nested encoder as a length delimited field.
func (e *Encoder) Message(field int, m *Encoder) *Encoder {
	return e.Bytes(field, m.Marshal())
}

func (e *Encoder) Marshal() []byte {
	out := proto.EncodeVarint(e.fields)
	return append(out, e.body.Bytes()...)
}

// Decoder reads what Encoder wrote. Typical use:
//
//	for d.Next() {
//		switch d.Field() {
//		case 1:
//			x = d.Uint64()
//		default:
//			d.Skip()
//		}
//	}
//	if err := d.Err(); err != nil {
//		...
//	}
type Decoder struct {
	what      string
	buf       *proto.Buffer
	remaining uint64
	field     int
	wire      int
	err       error
}

// NewDecoder returns a decoder over data, what names the message in
// corruption errors.
func NewDecoder(what string, data []byte) *Decoder {
	d := &Decoder{what: what}
	n, size := proto.DecodeVarint(data)
	if size == 0 {
		d.fail(nil)
		return d
	}
	d.remaining = n
	d.buf = proto.NewBuffer(data[size:])
	return d
}

func (d *Decoder) fail(cause error) {
	if d.err != nil {
		return
	}
	e := moerr.NewCorruption(context.TODO(), "malformed %s", d.what)
	if cause != nil {
		e = moerr.AttachCause(e, cause)
	}
	d.err = e
}

func (d *Decoder) Next() bool {
	if d.err != nil || d.remaining == 0 {
		return false
	}
	k, err := d.buf.DecodeVarint()
	if err != nil {
		d.fail(err)
		return false
	}
	d.remaining--
	d.field = int(k >> 3)
	d.wire = int(k & 7)
	return true
}

func (d *Decoder) Field() int {
	return d.field
}

func (d *Decoder) expect(wire int) bool {
	if d.err != nil {
		return false
	}
	if d.wire != wire {
		d.fail(nil)
		return false
	}
	return true
}

func (d *Decoder) Uint64() uint64 {
	if !d.expect(WireVarint) {
		return 0
	}
	v, err := d.buf.DecodeVarint()
	if err != nil {
		d.fail(err)
	}
	return v
}

func (d *Decoder) Int64() int64 {
	return int64(d.Uint64())
}

func (d *Decoder) Bool() bool {
	return d.Uint64() != 0
}

// Bytes returns a copy of a length delimited field.
func (d *Decoder) Bytes() []byte {
	if !d.expect(WireBytes) {
		return nil
	}
	b, err := d.buf.DecodeRawBytes(true)
	if err != nil {
		d.fail(err)
	}
	return b
}

func (d *Decoder) String() string {
	if !d.expect(WireBytes) {
		return ""
	}
	s, err := d.buf.DecodeStringBytes()
	if err != nil {
		d.fail(err)
	}
	return s
}

// Skip drops a field this version does not know.
func (d *Decoder) Skip() {
	switch d.wire {
	case WireVarint:
		d.Uint64()
	case WireBytes:
		d.Bytes()
	default:
		d.fail(nil)
	}
}

func (d *Decoder) Err() error {
	if d.err == nil {
		return nil
	}
	return d.err
}
