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

package concurrent

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a busy waiting lock for very short critical sections,
// e.g. swapping a pointer or touching a small set.
type SpinLock struct {
	state atomic.Int32
}

func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

func (l *SpinLock) Unlock() {
	l.state.Store(0)
}
