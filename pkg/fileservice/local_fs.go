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
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

const sentinelFileName = "thisisalocalfileservicedir"

// LocalFS is a FileService implementation backed by local file system
type LocalFS struct {
	name     string
	rootPath string

	sync.RWMutex
	dirFiles map[string]*os.File
}

var _ FileService = new(LocalFS)

func NewLocalFS(ctx context.Context, name string, rootPath string) (*LocalFS, error) {
	// ensure dir
	f, err := os.Open(rootPath)
	if os.IsNotExist(err) {
		// not exists, create
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, moerr.NewIOError(ctx, rootPath, err)
		}
		if err := os.WriteFile(filepath.Join(rootPath, sentinelFileName), nil, 0644); err != nil {
			return nil, moerr.NewIOError(ctx, rootPath, err)
		}

	} else if err != nil {
		// stat error
		return nil, moerr.NewIOError(ctx, rootPath, err)

	} else {
		// existed, check if a real file service dir
		defer f.Close()
		entries, err := f.ReadDir(1)
		if len(entries) == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, moerr.NewIOError(ctx, rootPath, err)
			}
			// empty dir, claim it
			if err := os.WriteFile(filepath.Join(rootPath, sentinelFileName), nil, 0644); err != nil {
				return nil, moerr.NewIOError(ctx, rootPath, err)
			}
		} else {
			// not empty, check sentinel file
			_, err := os.Stat(filepath.Join(rootPath, sentinelFileName))
			if os.IsNotExist(err) {
				return nil, moerr.NewInvalidInput(ctx, "%s is not a file service dir", rootPath)
			} else if err != nil {
				return nil, moerr.NewIOError(ctx, rootPath, err)
			}
		}
	}

	// create tmp dir
	if err := os.MkdirAll(filepath.Join(rootPath, ".tmp"), 0755); err != nil {
		return nil, moerr.NewIOError(ctx, rootPath, err)
	}

	return &LocalFS{
		name:     name,
		rootPath: rootPath,
		dirFiles: make(map[string]*os.File),
	}, nil
}

func (l *LocalFS) Name() string {
	return l.name
}

func (l *LocalFS) RootPath() string {
	return l.rootPath
}

func (l *LocalFS) Write(ctx context.Context, vector IOVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := validatePath(ctx, vector.FilePath)
	if err != nil {
		return err
	}
	vector.FilePath = filePath
	nativePath := l.toNativeFilePath(filePath)

	// check existence
	if _, err := os.Stat(nativePath); err == nil {
		return moerr.NewFileAlreadyExists(ctx, filePath)
	}

	content, err := vector.content(ctx)
	if err != nil {
		return err
	}

	// write
	f, err := os.CreateTemp(filepath.Join(l.rootPath, ".tmp"), "*.tmp")
	if err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	tmpName := f.Name()
	fail := func(err error) error {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return moerr.NewIOError(ctx, filePath, err)
	}
	if _, err := f.Write(content); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return moerr.NewIOError(ctx, filePath, err)
	}

	// ensure parent dir
	parentDir, _ := filepath.Split(nativePath)
	if err := l.ensureDir(parentDir); err != nil {
		_ = os.Remove(tmpName)
		return moerr.NewIOError(ctx, filePath, err)
	}

	// move
	if err := os.Rename(tmpName, nativePath); err != nil {
		_ = os.Remove(tmpName)
		return moerr.NewIOError(ctx, filePath, err)
	}

	if err := l.syncDir(parentDir); err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	return nil
}

func (l *LocalFS) Read(ctx context.Context, vector *IOVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := validatePath(ctx, vector.FilePath)
	if err != nil {
		return err
	}
	nativePath := l.toNativeFilePath(filePath)
	f, err := os.Open(nativePath)
	if os.IsNotExist(err) {
		return moerr.NewFileNotFound(ctx, filePath)
	}
	if err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	fileSize := stat.Size()

	min, max := vector.readRange()
	if max < 0 || max > fileSize {
		max = fileSize
	}
	if min > max {
		return moerr.NewEmptyRange(ctx, filePath)
	}
	content := make([]byte, max-min)
	if _, err := f.ReadAt(content, min); err != nil && !errors.Is(err, io.EOF) {
		return moerr.NewIOError(ctx, filePath, err)
	}
	return vector.fill(ctx, content, min, fileSize)
}

func (l *LocalFS) Stat(ctx context.Context, filePath string) (*DirEntry, error) {
	filePath, err := validatePath(ctx, filePath)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(l.toNativeFilePath(filePath))
	if os.IsNotExist(err) {
		return nil, moerr.NewFileNotFound(ctx, filePath)
	}
	if err != nil {
		return nil, moerr.NewIOError(ctx, filePath, err)
	}
	return &DirEntry{
		Name:  filepath.Base(filePath),
		IsDir: stat.IsDir(),
		Size:  stat.Size(),
	}, nil
}

func (l *LocalFS) List(ctx context.Context, dirPath string) (ret []DirEntry, err error) {
	nativePath := l.rootPath
	if dirPath != "" && dirPath != "." {
		if dirPath, err = validatePath(ctx, dirPath); err != nil {
			return nil, err
		}
		nativePath = l.toNativeFilePath(dirPath)
	}
	f, err := os.Open(nativePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, moerr.NewIOError(ctx, dirPath, err)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, moerr.NewIOError(ctx, dirPath, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == sentinelFileName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, moerr.NewIOError(ctx, dirPath, err)
		}
		ret = append(ret, DirEntry{
			Name:  name,
			IsDir: entry.IsDir(),
			Size:  info.Size(),
		})
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return ret, nil
}

func (l *LocalFS) Delete(ctx context.Context, filePaths ...string) error {
	for _, filePath := range filePaths {
		filePath, err := validatePath(ctx, filePath)
		if err != nil {
			return err
		}
		nativePath := l.toNativeFilePath(filePath)
		if err := os.Remove(nativePath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return moerr.NewIOError(ctx, filePath, err)
		}
		parentDir, _ := filepath.Split(nativePath)
		if err := l.syncDir(parentDir); err != nil {
			return moerr.NewIOError(ctx, filePath, err)
		}
	}
	return nil
}

// Close releases the cached directory handles.
func (l *LocalFS) Close() error {
	l.Lock()
	defer l.Unlock()
	var firstErr error
	for p, f := range l.dirFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(l.dirFiles, p)
	}
	return firstErr
}

func (l *LocalFS) ensureDir(nativePath string) error {
	nativePath = filepath.Clean(nativePath)
	if nativePath == "" {
		return nil
	}

	// check existence by l.dirFiles
	l.RLock()
	_, ok := l.dirFiles[nativePath]
	l.RUnlock()
	if ok {
		return nil
	}

	// check existence by fstat
	if _, err := os.Stat(nativePath); err == nil {
		return nil
	}

	// ensure parent
	parent, _ := filepath.Split(nativePath)
	parent = filepath.Clean(parent)
	if parent != nativePath {
		if err := l.ensureDir(parent); err != nil {
			return err
		}
	}

	// create
	if err := os.Mkdir(nativePath, 0755); err != nil && !os.IsExist(err) {
		return err
	}

	// sync parent dir
	return l.syncDir(parent)
}

func (l *LocalFS) syncDir(nativePath string) error {
	nativePath = filepath.Clean(nativePath)
	l.Lock()
	f, ok := l.dirFiles[nativePath]
	if !ok {
		var err error
		f, err = os.Open(nativePath)
		if err != nil {
			l.Unlock()
			return err
		}
		l.dirFiles[nativePath] = f
	}
	l.Unlock()
	return f.Sync()
}

func (l *LocalFS) toNativeFilePath(filePath string) string {
	return filepath.Join(l.rootPath, filepath.FromSlash(filePath))
}
