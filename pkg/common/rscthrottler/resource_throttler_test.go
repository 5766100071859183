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

package rscthrottler

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

const kb = int64(1024)

func TestBasic(t *testing.T) {
	t.Run("A", func(t *testing.T) {
		tracker := NewMemTracker("TestBasic", nil)

		tracker.PrintUsage()
		require.Equal(t, int64(math.MaxInt64), tracker.Available())

		for i := 0; i < 10; i++ {
			_, ok := tracker.TryConsume(10)
			require.True(t, ok)
			tracker.Release(10)
		}
		require.Equal(t, int64(0), tracker.Consumption())
		require.Equal(t, int64(10), tracker.Peak())
		require.NoError(t, tracker.CheckMemLimit(context.Background()))
	})

	t.Run("B", func(t *testing.T) {
		total := kb

		tracker := NewMemTracker("TestBasic", nil, WithConstLimit(total))

		tracker.PrintUsage()
		avail1 := tracker.Available()
		require.Equal(t, total, avail1)

		for i := 0; i < 10; i++ {
			tracker.TryConsume(10)
			tracker.Release(10)
		}
		require.Equal(t, avail1, tracker.Available())

		left, ok := tracker.TryConsume(1000)
		require.True(t, ok)
		require.Equal(t, total-1000, left)

		left, ok = tracker.TryConsume(1000)
		require.False(t, ok)
		require.Equal(t, total-1000, left)

		tracker.Consume(1000)
		err := tracker.CheckMemLimit(context.Background())
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrMemLimitExceeded))
		tracker.PrintUsage()
	})
}

func TestHierarchy(t *testing.T) {
	root := NewMemTracker("root", nil, WithConstLimit(kb))
	a := NewMemTracker("a", root)
	b := NewMemTracker("b", root, WithConstLimit(10*kb))

	a.Consume(600)
	require.Equal(t, int64(600), root.Consumption())
	require.Equal(t, kb-600, b.Available())

	_, ok := b.TryConsume(500)
	require.False(t, ok)
	require.Equal(t, int64(0), b.Consumption())
	require.Equal(t, int64(600), root.Consumption())

	b.Consume(500)
	require.Same(t, root, b.LimitExceeded())
	require.Error(t, a.CheckMemLimit(context.Background()))

	a.Release(600)
	require.Nil(t, b.LimitExceeded())
}

func TestParallel(t *testing.T) {
	tracker := NewMemTracker("TestParallel", nil, WithConstLimit(64*kb))
	available := tracker.Available()

	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 1000; j++ {
				rnd := int64(rand.Intn(int(kb))) + 1
				for {
					if _, ok := tracker.TryConsume(rnd); ok {
						break
					}
				}
				time.Sleep(time.Microsecond)
				tracker.Release(rnd)
			}
		}()
	}

	wg.Wait()

	tracker.PrintUsage()
	require.Equal(t, available, tracker.Available())
	require.LessOrEqual(t, tracker.Peak(), 64*kb)
}

func BenchmarkTracker(b *testing.B) {
	tracker := NewMemTracker("BenchmarkTracker", nil, WithConstLimit(kb))

	for i := 0; i < b.N; i++ {
		tracker.TryConsume(10)
		tracker.Release(10)
		tracker.Available()
	}
}
