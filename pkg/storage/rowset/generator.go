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
	"sync/atomic"

	"github.com/matrixorigin/colstore/pkg/common/concurrent"
)

// IDGenerator hands out rowset ids and remembers which are still in use
// so that garbage collection leaves their files alone.
type IDGenerator interface {
	NextID() RowsetID
	IDInUse(id RowsetID) bool
	ReleaseID(id RowsetID)
}

const uniqueGeneratorVersion = 2

// UniqueRowsetIDGenerator builds version 2 ids from a process wide
// sequence and the backend uid, so ids never collide across backends.
type UniqueRowsetIDGenerator struct {
	backendUID UniqueID
	incID      atomic.Int64

	lock    concurrent.SpinLock
	validHi map[int64]struct{}
}

func NewUniqueRowsetIDGenerator(backendUID UniqueID) *UniqueRowsetIDGenerator {
	return &UniqueRowsetIDGenerator{
		backendUID: backendUID,
		validHi:    make(map[int64]struct{}),
	}
}

func (g *UniqueRowsetIDGenerator) BackendUID() UniqueID {
	return g.backendUID
}

func (g *UniqueRowsetIDGenerator) NextID() RowsetID {
	id := NewRowsetID(uniqueGeneratorVersion, g.incID.Add(1), g.backendUID.Hi, g.backendUID.Lo)
	g.lock.Lock()
	g.validHi[id.Hi] = struct{}{}
	g.lock.Unlock()
	return id
}

func (g *UniqueRowsetIDGenerator) IDInUse(id RowsetID) bool {
	// ids of older versions or other backends were not issued here
	if id.Version() < uniqueGeneratorVersion {
		return false
	}
	if id.Mi != g.backendUID.Hi || id.Lo != g.backendUID.Lo {
		return false
	}
	g.lock.Lock()
	defer g.lock.Unlock()
	_, ok := g.validHi[id.Hi]
	return ok
}

func (g *UniqueRowsetIDGenerator) ReleaseID(id RowsetID) {
	if id.Version() < uniqueGeneratorVersion {
		return
	}
	if id.Mi != g.backendUID.Hi || id.Lo != g.backendUID.Lo {
		return
	}
	g.lock.Lock()
	delete(g.validHi, id.Hi)
	g.lock.Unlock()
}

// InUseCount is the number of ids currently tracked.
func (g *UniqueRowsetIDGenerator) InUseCount() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.validHi)
}
