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

package segment

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/storage/index"
)

type Op uint8

const (
	OpEq Op = iota + 1
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpIsNull
	OpNotNull
)

var opNames = [...]string{
	OpEq:      "=",
	OpNe:      "!=",
	OpLt:      "<",
	OpLe:      "<=",
	OpGt:      ">",
	OpGe:      ">=",
	OpIn:      "in",
	OpIsNull:  "is null",
	OpNotNull: "is not null",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// ColumnPredicate filters rows on one column. Values hold encoded
// operands, one for comparisons, any number for in, none for the null
// checks.
type ColumnPredicate struct {
	ColumnID int
	Op       Op
	Values   [][]byte
}

// NewPredicate encodes vals with the column type.
func NewPredicate(columnID int, op Op, typ types.T, vals ...any) (ColumnPredicate, error) {
	p := ColumnPredicate{ColumnID: columnID, Op: op}
	for _, v := range vals {
		enc, err := types.EncodeValue(v, typ)
		if err != nil {
			return p, err
		}
		p.Values = append(p.Values, enc)
	}
	return p, p.validate()
}

func (p *ColumnPredicate) validate() error {
	switch p.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if len(p.Values) != 1 {
			return moerr.NewInvalidArgNoCtx(p.Op.String()+" operands", len(p.Values))
		}
	case OpIn:
		if len(p.Values) == 0 {
			return moerr.NewInvalidArgNoCtx("in operands", 0)
		}
	case OpIsNull, OpNotNull:
		if len(p.Values) != 0 {
			return moerr.NewInvalidArgNoCtx(p.Op.String()+" operands", len(p.Values))
		}
	default:
		return moerr.NewInvalidArgNoCtx("predicate op", p.Op)
	}
	return nil
}

// Evaluate tests one encoded value, nil is null. Only the null checks
// match a null.
func (p *ColumnPredicate) Evaluate(val []byte) bool {
	switch p.Op {
	case OpIsNull:
		return val == nil
	case OpNotNull:
		return val != nil
	}
	if val == nil {
		return false
	}
	switch p.Op {
	case OpEq:
		return bytes.Equal(val, p.Values[0])
	case OpNe:
		return !bytes.Equal(val, p.Values[0])
	case OpLt:
		return bytes.Compare(val, p.Values[0]) < 0
	case OpLe:
		return bytes.Compare(val, p.Values[0]) <= 0
	case OpGt:
		return bytes.Compare(val, p.Values[0]) > 0
	case OpGe:
		return bytes.Compare(val, p.Values[0]) >= 0
	case OpIn:
		for _, v := range p.Values {
			if bytes.Equal(val, v) {
				return true
			}
		}
	}
	return false
}

// MayMatchZone reports whether a zone can hold a matching row.
func (p *ColumnPredicate) MayMatchZone(zm *index.ZoneMap) bool {
	switch p.Op {
	case OpIsNull:
		return zm.HasNull
	case OpNotNull:
		return zm.HasNotNull
	case OpEq:
		return zm.MayContain(p.Values[0])
	case OpNe:
		return zm.HasNotNull &&
			!(bytes.Equal(zm.Min, p.Values[0]) && bytes.Equal(zm.Max, p.Values[0]))
	case OpLt:
		return zm.MayIntersect(nil, false, p.Values[0], false)
	case OpLe:
		return zm.MayIntersect(nil, false, p.Values[0], true)
	case OpGt:
		return zm.MayIntersect(p.Values[0], false, nil, false)
	case OpGe:
		return zm.MayIntersect(p.Values[0], true, nil, false)
	case OpIn:
		for _, v := range p.Values {
			if zm.MayContain(v) {
				return true
			}
		}
		return false
	}
	return true
}

// usesBloomFilter is true for the equality lookups a bloom filter answers.
func (p *ColumnPredicate) usesBloomFilter() bool {
	return p.Op == OpEq || p.Op == OpIn
}

// MayMatchBloom reports whether page i of bf can hold a matching row.
func (p *ColumnPredicate) MayMatchBloom(bf *index.BloomFilterReader, i int) bool {
	for _, v := range p.Values {
		if bf.PageMayContain(i, v) {
			return true
		}
	}
	return false
}

func (p *ColumnPredicate) String(typ types.T) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "c%d %s", p.ColumnID, p.Op)
	for i, v := range p.Values {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteByte(',')
		}
		sb.WriteString(types.FormatValue(v, typ))
	}
	return sb.String()
}
