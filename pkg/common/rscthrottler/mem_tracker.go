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
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/logutil"
)

// MemTracker counts the bytes held by a task. Consumption is charged to
// every ancestor too, so a parent limit bounds all of its children.
type MemTracker struct {
	label       string
	limit       int64
	parent      *MemTracker
	consumption atomic.Int64
	peak        atomic.Int64
}

type Option func(*MemTracker)

// WithConstLimit caps the tracker at limit bytes, no limit when <= 0.
func WithConstLimit(limit int64) Option {
	return func(t *MemTracker) {
		t.limit = limit
	}
}

func NewMemTracker(label string, parent *MemTracker, opts ...Option) *MemTracker {
	t := &MemTracker{label: label, parent: parent}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemTracker) Label() string {
	return t.label
}

func (t *MemTracker) Parent() *MemTracker {
	return t.parent
}

func (t *MemTracker) Limit() int64 {
	if t.limit <= 0 {
		return math.MaxInt64
	}
	return t.limit
}

func (t *MemTracker) HasLimit() bool {
	return t.limit > 0
}

func (t *MemTracker) Consumption() int64 {
	return t.consumption.Load()
}

func (t *MemTracker) Peak() int64 {
	return t.peak.Load()
}

// Available is the room left before the tightest limit on the path to
// the root.
func (t *MemTracker) Available() int64 {
	avail := int64(math.MaxInt64)
	for c := t; c != nil; c = c.parent {
		if c.HasLimit() {
			avail = min(avail, c.limit-c.Consumption())
		}
	}
	return avail
}

// Consume charges n bytes without checking any limit.
func (t *MemTracker) Consume(n int64) {
	for c := t; c != nil; c = c.parent {
		c.updatePeak(c.consumption.Add(n))
	}
}

func (t *MemTracker) updatePeak(v int64) {
	for {
		p := t.peak.Load()
		if v <= p || t.peak.CompareAndSwap(p, v) {
			return
		}
	}
}

func (t *MemTracker) Release(n int64) {
	t.Consume(-n)
}

// TryConsume charges n bytes unless a limit would be crossed, in which
// case nothing is charged. It returns what is left after the call.
func (t *MemTracker) TryConsume(n int64) (int64, bool) {
	for c := t; c != nil; c = c.parent {
		v := c.consumption.Add(n)
		if c.HasLimit() && v > c.limit {
			for u := t; u != c.parent; u = u.parent {
				u.consumption.Add(-n)
			}
			return t.Available(), false
		}
		c.updatePeak(v)
	}
	return t.Available(), true
}

// LimitExceeded returns the first tracker on the path to the root whose
// consumption is over its limit.
func (t *MemTracker) LimitExceeded() *MemTracker {
	for c := t; c != nil; c = c.parent {
		if c.HasLimit() && c.Consumption() > c.limit {
			return c
		}
	}
	return nil
}

// CheckMemLimit fails with MemLimitExceeded when any limit on the path to
// the root is crossed.
func (t *MemTracker) CheckMemLimit(ctx context.Context) error {
	if c := t.LimitExceeded(); c != nil {
		return moerr.NewMemLimitExceeded(ctx, c.label, c.limit, c.Consumption())
	}
	return nil
}

func (t *MemTracker) PrintUsage() {
	logutil.Info("memory usage",
		zap.String("tracker", t.label),
		zap.String("consumption", humanize.IBytes(uint64(max(t.Consumption(), 0)))),
		zap.String("peak", humanize.IBytes(uint64(max(t.Peak(), 0)))),
		zap.String("limit", limitString(t)))
}

func limitString(t *MemTracker) string {
	if !t.HasLimit() {
		return "unlimited"
	}
	return humanize.IBytes(uint64(t.limit))
}
