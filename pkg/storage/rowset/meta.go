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
	"time"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/encoding"
)

type State uint8

const (
	StatePrepared State = iota
	StateCommitted
	StateVisible
)

func (s State) String() string {
	switch s {
	case StatePrepared:
		return "PREPARED"
	case StateCommitted:
		return "COMMITTED"
	case StateVisible:
		return "VISIBLE"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Version is a closed range of tablet versions.
type Version struct {
	Start int64
	End   int64
}

func (v Version) String() string {
	return fmt.Sprintf("[%d-%d]", v.Start, v.End)
}

func (v Version) Contains(o Version) bool {
	return v.Start <= o.Start && o.End <= v.End
}

// SegmentMeta describes one segment file of a rowset.
type SegmentMeta struct {
	NumRows   int64
	DataSize  int64
	IndexSize int64
}

// Meta is the descriptor of a rowset. It does not change after commit
// except for the visibility state.
type Meta struct {
	RowsetID      RowsetID
	TabletID      int64
	TabletUID     UniqueID
	SchemaHash    int64
	Version       Version
	NumRows       int64
	TotalDiskSize int64
	DataDiskSize  int64
	IndexDiskSize int64
	Segments      []SegmentMeta
	// RowsetSegID is the tablet wide id of the first segment, segment i
	// of the rowset is RowsetSegID+i. The tablet assigns it when the
	// rowset is added, deletion vectors are keyed by it.
	RowsetSegID  uint32
	CreationTime int64
	State        State
	// Overlapping is set when segments are not sorted against each other.
	Overlapping bool
}

func (m *Meta) NumSegments() int {
	return len(m.Segments)
}

// SegmentID is the tablet wide id of segment i.
func (m *Meta) SegmentID(i int) uint32 {
	return m.RowsetSegID + uint32(i)
}

func (m *Meta) Empty() bool {
	return m.NumRows == 0
}

// SetVisible is the only change a committed meta accepts.
func (m *Meta) SetVisible() error {
	if m.State != StateCommitted && m.State != StateVisible {
		return moerr.NewInvalidState(context.TODO(), "rowset %s is %s, cannot become visible", m.RowsetID, m.State)
	}
	m.State = StateVisible
	return nil
}

func (m *Meta) Clone() *Meta {
	c := *m
	c.Segments = append([]SegmentMeta(nil), m.Segments...)
	return &c
}

func (m *Meta) String() string {
	return fmt.Sprintf("rowset %s tablet %d version %s rows %d segments %d state %s",
		m.RowsetID, m.TabletID, m.Version, m.NumRows, len(m.Segments), m.State)
}

const (
	fieldRowsetID = iota + 1
	fieldTabletID
	fieldTabletUIDHi
	fieldTabletUIDLo
	fieldSchemaHash
	fieldStartVersion
	fieldEndVersion
	fieldNumRows
	fieldTotalDiskSize
	fieldDataDiskSize
	fieldIndexDiskSize
	fieldSegment
	fieldCreationTime
	fieldState
	fieldOverlapping
	fieldRowsetSegID
)

const (
	fieldSegmentNumRows = iota + 1
	fieldSegmentDataSize
	fieldSegmentIndexSize
)

func (m *Meta) Marshal() []byte {
	e := encoding.NewEncoder().
		String(fieldRowsetID, m.RowsetID.HexString()).
		Int64(fieldTabletID, m.TabletID).
		Int64(fieldTabletUIDHi, m.TabletUID.Hi).
		Int64(fieldTabletUIDLo, m.TabletUID.Lo).
		Int64(fieldSchemaHash, m.SchemaHash).
		Int64(fieldStartVersion, m.Version.Start).
		Int64(fieldEndVersion, m.Version.End).
		Int64(fieldNumRows, m.NumRows).
		Int64(fieldTotalDiskSize, m.TotalDiskSize).
		Int64(fieldDataDiskSize, m.DataDiskSize).
		Int64(fieldIndexDiskSize, m.IndexDiskSize)
	for _, seg := range m.Segments {
		e.Message(fieldSegment, encoding.NewEncoder().
			Int64(fieldSegmentNumRows, seg.NumRows).
			Int64(fieldSegmentDataSize, seg.DataSize).
			Int64(fieldSegmentIndexSize, seg.IndexSize))
	}
	return e.Int64(fieldCreationTime, m.CreationTime).
		Uint64(fieldState, uint64(m.State)).
		Bool(fieldOverlapping, m.Overlapping).
		Uint64(fieldRowsetSegID, uint64(m.RowsetSegID)).
		Marshal()
}

func (m *Meta) Unmarshal(data []byte) error {
	*m = Meta{}
	d := encoding.NewDecoder("rowset meta", data)
	for d.Next() {
		switch d.Field() {
		case fieldRowsetID:
			id, err := ParseRowsetID(d.String())
			if err != nil {
				return moerr.AttachCause(moerr.NewCorruption(context.TODO(), "rowset meta id"), err)
			}
			m.RowsetID = id
		case fieldTabletID:
			m.TabletID = d.Int64()
		case fieldTabletUIDHi:
			m.TabletUID.Hi = d.Int64()
		case fieldTabletUIDLo:
			m.TabletUID.Lo = d.Int64()
		case fieldSchemaHash:
			m.SchemaHash = d.Int64()
		case fieldStartVersion:
			m.Version.Start = d.Int64()
		case fieldEndVersion:
			m.Version.End = d.Int64()
		case fieldNumRows:
			m.NumRows = d.Int64()
		case fieldTotalDiskSize:
			m.TotalDiskSize = d.Int64()
		case fieldDataDiskSize:
			m.DataDiskSize = d.Int64()
		case fieldIndexDiskSize:
			m.IndexDiskSize = d.Int64()
		case fieldSegment:
			var seg SegmentMeta
			sd := encoding.NewDecoder("segment meta", d.Bytes())
			for sd.Next() {
				switch sd.Field() {
				case fieldSegmentNumRows:
					seg.NumRows = sd.Int64()
				case fieldSegmentDataSize:
					seg.DataSize = sd.Int64()
				case fieldSegmentIndexSize:
					seg.IndexSize = sd.Int64()
				default:
					sd.Skip()
				}
			}
			if err := sd.Err(); err != nil {
				return err
			}
			m.Segments = append(m.Segments, seg)
		case fieldCreationTime:
			m.CreationTime = d.Int64()
		case fieldState:
			m.State = State(d.Uint64())
		case fieldOverlapping:
			m.Overlapping = d.Bool()
		case fieldRowsetSegID:
			m.RowsetSegID = uint32(d.Uint64())
		default:
			d.Skip()
		}
	}
	return d.Err()
}

func NewMeta(id RowsetID, tabletID int64, tabletUID UniqueID, schemaHash int64, version Version) *Meta {
	return &Meta{
		RowsetID:     id,
		TabletID:     tabletID,
		TabletUID:    tabletUID,
		SchemaHash:   schemaHash,
		Version:      version,
		CreationTime: time.Now().Unix(),
		State:        StatePrepared,
	}
}
