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

package fileservice

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// MemoryFS is an in-memory FileService implementation
type MemoryFS struct {
	name string
	sync.RWMutex
	tree *btree.BTree
}

type memFile struct {
	path string
	data []byte
}

func (m *memFile) Less(than btree.Item) bool {
	return m.path < than.(*memFile).path
}

var _ FileService = new(MemoryFS)

func NewMemoryFS(name string) *MemoryFS {
	return &MemoryFS{
		name: name,
		tree: btree.New(2),
	}
}

func (m *MemoryFS) Name() string {
	return m.name
}

func (m *MemoryFS) Write(ctx context.Context, vector IOVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := validatePath(ctx, vector.FilePath)
	if err != nil {
		return err
	}
	vector.FilePath = filePath
	content, err := vector.content(ctx)
	if err != nil {
		return err
	}
	data := make([]byte, len(content))
	copy(data, content)

	m.Lock()
	defer m.Unlock()
	if m.tree.Has(&memFile{path: filePath}) {
		return moerr.NewFileAlreadyExists(ctx, filePath)
	}
	m.tree.ReplaceOrInsert(&memFile{path: filePath, data: data})
	return nil
}

func (m *MemoryFS) Read(ctx context.Context, vector *IOVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := validatePath(ctx, vector.FilePath)
	if err != nil {
		return err
	}

	m.RLock()
	item := m.tree.Get(&memFile{path: filePath})
	m.RUnlock()
	if item == nil {
		return moerr.NewFileNotFound(ctx, filePath)
	}
	// file contents are never mutated after Write
	data := item.(*memFile).data
	return vector.fill(ctx, data, 0, int64(len(data)))
}

func (m *MemoryFS) Stat(ctx context.Context, filePath string) (*DirEntry, error) {
	filePath, err := validatePath(ctx, filePath)
	if err != nil {
		return nil, err
	}
	m.RLock()
	defer m.RUnlock()
	item := m.tree.Get(&memFile{path: filePath})
	if item == nil {
		return nil, moerr.NewFileNotFound(ctx, filePath)
	}
	return &DirEntry{
		Name: baseName(filePath),
		Size: int64(len(item.(*memFile).data)),
	}, nil
}

func (m *MemoryFS) List(ctx context.Context, dirPath string) (ret []DirEntry, err error) {
	prefix := ""
	if dirPath != "" && dirPath != "." {
		if dirPath, err = validatePath(ctx, dirPath); err != nil {
			return nil, err
		}
		prefix = dirPath + "/"
	}

	m.RLock()
	defer m.RUnlock()
	m.tree.AscendGreaterOrEqual(&memFile{path: prefix}, func(i btree.Item) bool {
		f := i.(*memFile)
		if !strings.HasPrefix(f.path, prefix) {
			return false
		}
		relative := f.path[len(prefix):]
		if dir, _, ok := strings.Cut(relative, "/"); ok {
			if n := len(ret); n == 0 || ret[n-1].Name != dir {
				ret = append(ret, DirEntry{Name: dir, IsDir: true})
			}
			return true
		}
		ret = append(ret, DirEntry{Name: relative, Size: int64(len(f.data))})
		return true
	})
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return ret, nil
}

func (m *MemoryFS) Delete(ctx context.Context, filePaths ...string) error {
	m.Lock()
	defer m.Unlock()
	for _, filePath := range filePaths {
		filePath, err := validatePath(ctx, filePath)
		if err != nil {
			return err
		}
		m.tree.Delete(&memFile{path: filePath})
	}
	return nil
}

func baseName(filePath string) string {
	if i := strings.LastIndexByte(filePath, '/'); i >= 0 {
		return filePath[i+1:]
	}
	return filePath
}
