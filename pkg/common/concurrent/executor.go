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
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Executor splits [0, nitems) into contiguous ranges and runs fn on each
// range in its own goroutine. The first error cancels ctx for the others.
type Executor struct {
	nworkers int
}

func NewExecutor(nworkers int) Executor {
	if nworkers <= 0 {
		nworkers = runtime.NumCPU()
	}
	return Executor{nworkers: nworkers}
}

func (e Executor) Workers() int {
	return e.nworkers
}

func (e Executor) Execute(
	ctx context.Context,
	nitems int,
	fn func(ctx context.Context, worker int, start, end int) error,
) error {
	g, ctx := errgroup.WithContext(ctx)

	q := nitems / e.nworkers
	r := nitems % e.nworkers

	start := 0
	for i := 0; i < e.nworkers; i++ {
		size := q
		if i < r {
			size++
		}
		if size == 0 {
			break
		}
		worker, curStart, curEnd := i, start, start+size
		g.Go(func() error {
			return fn(ctx, worker, curStart, curEnd)
		})
		start = curEnd
	}
	return g.Wait()
}

// ForEach runs fn once per item, at most Workers() at a time.
func (e Executor) ForEach(
	ctx context.Context,
	nitems int,
	fn func(ctx context.Context, i int) error,
) error {
	return e.Execute(ctx, nitems, func(ctx context.Context, _ int, start, end int) error {
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	})
}
