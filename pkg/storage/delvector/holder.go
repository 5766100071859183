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

package delvector

import (
	"fmt"

	"github.com/matrixorigin/colstore/pkg/common/concurrent"
	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// Holder publishes the current DelVector of one segment. The lock only
// guards the pointer, readers use the returned snapshot without it.
type Holder struct {
	lock    concurrent.SpinLock
	current *DelVector
}

func NewHolder(dv *DelVector) *Holder {
	if dv == nil {
		dv = New()
	}
	return &Holder{current: dv}
}

func (h *Holder) Get() *DelVector {
	h.lock.Lock()
	dv := h.current
	h.lock.Unlock()
	return dv
}

// Publish replaces the current snapshot. dv must carry a newer version.
func (h *Holder) Publish(dv *DelVector) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if dv.version <= h.current.version {
		return moerr.NewInvalidArgNoCtx("del vector version",
			fmt.Sprintf("%d <= %d", dv.version, h.current.version))
	}
	h.current = dv
	return nil
}

// AddDels extends the current snapshot and publishes the result.
func (h *Holder) AddDels(dels []uint32, version int64) (*DelVector, error) {
	ndv, err := h.Get().AddDelsAsNewVersion(dels, version)
	if err != nil {
		return nil, err
	}
	if err := h.Publish(ndv); err != nil {
		return nil, err
	}
	return ndv, nil
}
