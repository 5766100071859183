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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/require"
)

func TestExecutor(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()

	e := NewExecutor(4)
	var sum atomic.Int64
	err := e.Execute(ctx, 10, func(_ context.Context, _ int, start, end int) error {
		for i := start; i < end; i++ {
			sum.Add(int64(i))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(45), sum.Load())

	// fewer items than workers
	var calls atomic.Int32
	require.NoError(t, e.ForEach(ctx, 2, func(context.Context, int) error {
		calls.Add(1)
		return nil
	}))
	require.Equal(t, int32(2), calls.Load())

	boom := errors.New("boom")
	err = e.ForEach(ctx, 16, func(_ context.Context, i int) error {
		if i == 7 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestSpinLock(t *testing.T) {
	defer leaktest.AfterTest(t)()
	var (
		l  SpinLock
		n  int
		wg sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Lock()
				n++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8000, n)

	require.True(t, l.TryLock())
	require.False(t, l.TryLock())
	l.Unlock()
}
