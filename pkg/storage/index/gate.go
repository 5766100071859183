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

package index

import (
	"sync"
	"sync/atomic"
)

type loadState int32

const (
	unloaded loadState = iota
	loading
	loaded
)

// loadGate runs a load function at most once successfully. Concurrent
// callers block while a load is in progress and then observe its result.
// A failed load leaves the gate unloaded so a later caller retries.
type loadGate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state atomic.Int32
}

func newLoadGate() *loadGate {
	g := &loadGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// do returns true when this caller performed the load.
func (g *loadGate) do(load func() error) (loadedByMe bool, err error) {
	g.mu.Lock()
	for loadState(g.state.Load()) == loading {
		g.cond.Wait()
	}
	if loadState(g.state.Load()) == loaded {
		g.mu.Unlock()
		return false, nil
	}
	g.state.Store(int32(loading))
	g.mu.Unlock()

	succeeded := false
	defer func() {
		g.mu.Lock()
		if succeeded {
			g.state.Store(int32(loaded))
		} else {
			g.state.Store(int32(unloaded))
		}
		g.cond.Broadcast()
		g.mu.Unlock()
	}()
	if err = load(); err != nil {
		return false, err
	}
	succeeded = true
	return true, nil
}

func (g *loadGate) loaded() bool {
	return loadState(g.state.Load()) == loaded
}
