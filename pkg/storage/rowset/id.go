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

package rowset

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

const (
	low56Bits = int64(1)<<56 - 1

	// RowsetIDHexLen is the length of the text form of version >= 2 ids.
	RowsetIDHexLen = 48

	// legacyRowsetIDVersion is the version of ids that only carry a
	// sequence number in the high word.
	legacyRowsetIDVersion = 1
)

// RowsetID identifies a rowset. The top 8 bits of Hi are the format
// version, the remaining 56 bits plus Mi and Lo are the id body.
type RowsetID struct {
	Hi int64
	Mi int64
	Lo int64
}

func NewRowsetID(version int8, high, middle, low int64) RowsetID {
	return RowsetID{
		Hi: int64(version)<<56 + (high & low56Bits),
		Mi: middle,
		Lo: low,
	}
}

func (id RowsetID) Version() int8 {
	return int8(uint64(id.Hi) >> 56)
}

func (id RowsetID) IsZero() bool {
	return id == RowsetID{}
}

// String returns the persisted text form: the high word in decimal for
// legacy ids, 48 hex chars otherwise.
func (id RowsetID) String() string {
	if id.Version() < 2 {
		return strconv.FormatInt(id.Hi&low56Bits, 10)
	}
	return id.HexString()
}

// HexString returns the 48 hex char form regardless of the version.
func (id RowsetID) HexString() string {
	return fmt.Sprintf("%016x%016x%016x", uint64(id.Hi), uint64(id.Mi), uint64(id.Lo))
}

// ParseRowsetID accepts both text forms written by String and HexString.
func ParseRowsetID(s string) (RowsetID, error) {
	if len(s) < RowsetIDHexLen {
		high, err := strconv.ParseInt(s, 10, 64)
		if err != nil || high < 0 {
			return RowsetID{}, moerr.NewInvalidArg(context.TODO(), "rowset id", s)
		}
		return NewRowsetID(legacyRowsetIDVersion, high, 0, 0), nil
	}
	if len(s) != RowsetIDHexLen {
		return RowsetID{}, moerr.NewInvalidArg(context.TODO(), "rowset id", s)
	}
	var words [3]int64
	for i := range words {
		w, err := strconv.ParseUint(s[i*16:(i+1)*16], 16, 64)
		if err != nil {
			return RowsetID{}, moerr.NewInvalidArg(context.TODO(), "rowset id", s)
		}
		words[i] = int64(w)
	}
	return RowsetID{Hi: words[0], Mi: words[1], Lo: words[2]}, nil
}

func MustParseRowsetID(s string) RowsetID {
	id, err := ParseRowsetID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// UniqueID is a 128 bit id, used for backend and tablet instance uids.
type UniqueID struct {
	Hi int64
	Lo int64
}

const uniqueIDStringLen = 33

func NewUniqueID() UniqueID {
	return UniqueIDFromUUID(uuid.New())
}

func UniqueIDFromUUID(u uuid.UUID) UniqueID {
	var id UniqueID
	for i := 0; i < 8; i++ {
		id.Hi = id.Hi<<8 | int64(u[i])
		id.Lo = id.Lo<<8 | int64(u[i+8])
	}
	return id
}

func (id UniqueID) String() string {
	return fmt.Sprintf("%016x-%016x", uint64(id.Hi), uint64(id.Lo))
}

func (id UniqueID) IsZero() bool {
	return id == UniqueID{}
}

func ParseUniqueID(s string) (UniqueID, error) {
	if len(s) != uniqueIDStringLen || s[16] != '-' {
		return UniqueID{}, moerr.NewInvalidArg(context.TODO(), "unique id", s)
	}
	hi, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return UniqueID{}, moerr.NewInvalidArg(context.TODO(), "unique id", s)
	}
	lo, err := strconv.ParseUint(s[17:], 16, 64)
	if err != nil {
		return UniqueID{}, moerr.NewInvalidArg(context.TODO(), "unique id", s)
	}
	return UniqueID{Hi: int64(hi), Lo: int64(lo)}, nil
}
