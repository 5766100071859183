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

package types

import (
	"fmt"
	"strings"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

type T uint8

const (
	T_any T = 0

	T_bool T = 10

	T_int8  T = 20
	T_int16 T = 21
	T_int32 T = 22
	T_int64 T = 23

	T_uint8  T = 25
	T_uint16 T = 26
	T_uint32 T = 27
	T_uint64 T = 28

	T_float32 T = 30
	T_float64 T = 31

	T_decimal64 T = 32

	T_date     T = 50
	T_datetime T = 51

	T_char    T = 60
	T_varchar T = 61
	T_json    T = 62
)

type (
	// Date is the number of days since 1970-01-01.
	Date int32
	// Datetime is the number of microseconds since 1970-01-01 00:00:00.
	Datetime int64
	// Decimal64 is a scaled integer, the scale lives in the column type.
	Decimal64 int64
)

type Type struct {
	Oid   T
	Size  int32
	Width int32
	Scale int32
}

func (t T) ToType() Type {
	typ := Type{Oid: t}
	if n := t.FixedLength(); n > 0 {
		typ.Size = int32(n)
	} else {
		typ.Size = 24
	}
	return typ
}

func (t Type) Eq(o Type) bool {
	return t.Oid == o.Oid && t.Size == o.Size && t.Width == o.Width && t.Scale == o.Scale
}

func (t Type) String() string {
	return t.Oid.String()
}

// FixedLength returns the encoded width of a value, -1 for variable length types.
func (t T) FixedLength() int {
	switch t {
	case T_bool, T_int8, T_uint8:
		return 1
	case T_int16, T_uint16:
		return 2
	case T_int32, T_uint32, T_float32, T_date:
		return 4
	case T_int64, T_uint64, T_float64, T_decimal64, T_datetime:
		return 8
	default:
		return -1
	}
}

func (t T) IsVarlen() bool {
	return t == T_char || t == T_varchar || t == T_json
}

func (t T) IsValid() bool {
	_, ok := typeNames[t]
	return ok
}

var typeNames = map[T][2]string{
	T_any:       {"ANY", "T_any"},
	T_bool:      {"BOOL", "T_bool"},
	T_int8:      {"TINYINT", "T_int8"},
	T_int16:     {"SMALLINT", "T_int16"},
	T_int32:     {"INT", "T_int32"},
	T_int64:     {"BIGINT", "T_int64"},
	T_uint8:     {"TINYINT UNSIGNED", "T_uint8"},
	T_uint16:    {"SMALLINT UNSIGNED", "T_uint16"},
	T_uint32:    {"INT UNSIGNED", "T_uint32"},
	T_uint64:    {"BIGINT UNSIGNED", "T_uint64"},
	T_float32:   {"FLOAT", "T_float32"},
	T_float64:   {"DOUBLE", "T_float64"},
	T_decimal64: {"DECIMAL64", "T_decimal64"},
	T_date:      {"DATE", "T_date"},
	T_datetime:  {"DATETIME", "T_datetime"},
	T_char:      {"CHAR", "T_char"},
	T_varchar:   {"VARCHAR", "T_varchar"},
	T_json:      {"JSON", "T_json"},
}

func (t T) String() string {
	if names, ok := typeNames[t]; ok {
		return names[0]
	}
	return fmt.Sprintf("unexpected type: %d", t)
}

func (t T) OidString() string {
	if names, ok := typeNames[t]; ok {
		return names[1]
	}
	return "unknown_type"
}

// ParseType accepts either the SQL name or the oid name of a type.
func ParseType(s string) (T, error) {
	for t, names := range typeNames {
		if strings.EqualFold(names[0], s) || strings.EqualFold(names[1], s) {
			return t, nil
		}
	}
	return T_any, moerr.NewInvalidArgNoCtx("column type", s)
}
