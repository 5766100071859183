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
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/lni/goutils/leaktest"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

func TestRowsetIDCodec(t *testing.T) {
	Convey("version 2 ids round trip through the hex form", t, func() {
		ids := []RowsetID{
			NewRowsetID(2, 0, 0, 0),
			NewRowsetID(2, 1, 2, 3),
			NewRowsetID(2, low56Bits, math.MaxInt64, math.MaxInt64),
			NewRowsetID(2, low56Bits, math.MinInt64, -1),
		}
		for _, id := range ids {
			s := id.String()
			So(len(s), ShouldEqual, RowsetIDHexLen)
			parsed, err := ParseRowsetID(s)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, id)
			So(parsed.Version(), ShouldEqual, 2)
		}
	})

	Convey("hex layout is version, high, middle, low", t, func() {
		id := NewRowsetID(2, 0x10, 0x20, 0x30)
		So(id.String(), ShouldEqual,
			"0200000000000010"+"0000000000000020"+"0000000000000030")
	})

	Convey("legacy decimal ids keep only the high word", t, func() {
		for _, high := range []int64{0, 1, 12345, low56Bits} {
			id := NewRowsetID(1, high, 0, 0)
			s := id.String()
			So(len(s), ShouldBeLessThan, RowsetIDHexLen)
			parsed, err := ParseRowsetID(s)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, id)

			// the canonical hex form decodes to the same id
			hex, err := ParseRowsetID(id.HexString())
			So(err, ShouldBeNil)
			So(hex, ShouldResemble, parsed)
		}
	})

	Convey("malformed text is rejected", t, func() {
		for _, s := range []string{"", "abc", "-1", strings.Repeat("0", 47) + "x", strings.Repeat("0", 49), strings.Repeat("g", 48)} {
			_, err := ParseRowsetID(s)
			So(moerr.IsMoErrCode(err, moerr.ErrInvalidArg), ShouldBeTrue)
		}
		So(func() { MustParseRowsetID("bad") }, ShouldPanic)
	})

	Convey("unique ids round trip", t, func() {
		uid := NewUniqueID()
		So(uid.IsZero(), ShouldBeFalse)
		parsed, err := ParseUniqueID(uid.String())
		So(err, ShouldBeNil)
		So(parsed, ShouldResemble, uid)
		_, err = ParseUniqueID("0000000000000001_0000000000000002")
		So(err, ShouldNotBeNil)
	})
}

func TestUniqueRowsetIDGenerator(t *testing.T) {
	defer leaktest.AfterTest(t)()
	backend := NewUniqueID()
	g := NewUniqueRowsetIDGenerator(backend)

	const workers, perWorker = 8, 500
	ids := make([][]RowsetID, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids[w] = append(ids[w], g.NextID())
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[RowsetID]struct{})
	for _, ws := range ids {
		for _, id := range ws {
			_, dup := seen[id]
			require.False(t, dup, "duplicated id %s", id)
			seen[id] = struct{}{}
			require.True(t, g.IDInUse(id))
			require.Equal(t, backend.Hi, id.Mi)
			require.Equal(t, backend.Lo, id.Lo)
		}
	}
	require.Equal(t, workers*perWorker, g.InUseCount())

	id := ids[0][0]
	g.ReleaseID(id)
	require.False(t, g.IDInUse(id))
	require.Equal(t, workers*perWorker-1, g.InUseCount())

	// ids issued elsewhere are never in use here
	require.False(t, g.IDInUse(NewRowsetID(1, 7, 0, 0)))
	other := NewRowsetID(2, 2, backend.Hi+1, backend.Lo)
	require.False(t, g.IDInUse(other))
	g.ReleaseID(other)
	require.Equal(t, workers*perWorker-1, g.InUseCount())
}
