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

package batch

import (
	"github.com/matrixorigin/colstore/pkg/container/types"
	"github.com/matrixorigin/colstore/pkg/container/vector"
)

// Chunk is a set of equally long columns read or written together.
type Chunk struct {
	Vecs []*vector.Vector
	// rows is only consulted when the chunk has no columns.
	rows int
}

func NewChunk(typs []types.T) *Chunk {
	c := &Chunk{Vecs: make([]*vector.Vector, len(typs))}
	for i, typ := range typs {
		c.Vecs[i] = vector.New(typ)
	}
	return c
}

func (c *Chunk) Types() []types.T {
	typs := make([]types.T, len(c.Vecs))
	for i, vec := range c.Vecs {
		typs[i] = vec.Typ()
	}
	return typs
}

func (c *Chunk) NumColumns() int {
	return len(c.Vecs)
}

func (c *Chunk) Rows() int {
	if len(c.Vecs) == 0 {
		return c.rows
	}
	return c.Vecs[0].Length()
}

// SetRows sets the row count of a chunk without columns.
func (c *Chunk) SetRows(n int) {
	c.rows = n
}

func (c *Chunk) IsEmpty() bool {
	return c.Rows() == 0
}

func (c *Chunk) Reset() {
	for _, vec := range c.Vecs {
		vec.Reset()
	}
	c.rows = 0
}

func (c *Chunk) MemSize() int {
	size := 0
	for _, vec := range c.Vecs {
		size += vec.MemSize()
	}
	return size
}

// AppendRow copies row of src, which must have the same layout.
func (c *Chunk) AppendRow(src *Chunk, row int) {
	for i, vec := range c.Vecs {
		vec.UnionOne(src.Vecs[i], row)
	}
	c.rows++
}

func (c *Chunk) Shrink(sels []int64) {
	for _, vec := range c.Vecs {
		vec.Shrink(sels)
	}
	c.rows = len(sels)
}
