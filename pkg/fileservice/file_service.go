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
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// FileService is a flat, write once file store. A file becomes visible to
// readers only after Write returns successfully.
type FileService interface {
	Name() string
	// Write creates a new file from vector. Writing an existing path fails
	// with ErrFileAlreadyExists.
	Write(ctx context.Context, vector IOVector) error
	// Read fills every entry of vector from the file.
	Read(ctx context.Context, vector *IOVector) error
	Stat(ctx context.Context, filePath string) (*DirEntry, error)
	// List returns the direct children of dirPath sorted by name.
	List(ctx context.Context, dirPath string) ([]DirEntry, error)
	// Delete removes files, missing files are ignored.
	Delete(ctx context.Context, filePaths ...string) error
}

type IOVector struct {
	FilePath string
	Entries  []IOEntry
}

type IOEntry struct {
	Offset int64
	// Size -1 means read to the end of the file.
	Size int64

	Data []byte

	// ReaderForWrite, when set, provides the bytes to write instead of Data.
	ReaderForWrite io.Reader
	// WriterForRead, when set, receives the bytes instead of Data.
	WriterForRead io.Writer
	// ReadCloserForRead, when set, receives a reader over the bytes.
	ReadCloserForRead *io.ReadCloser
}

type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

func validatePath(ctx context.Context, filePath string) (string, error) {
	if filePath == "" {
		return "", moerr.NewInvalidPath(ctx, filePath)
	}
	cleaned := path.Clean(filePath)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", moerr.NewInvalidPath(ctx, filePath)
	}
	return cleaned, nil
}

// content assembles the bytes of a write vector. Entries must cover
// [0, size) without holes or overlaps.
func (v *IOVector) content(ctx context.Context) ([]byte, error) {
	sort.Slice(v.Entries, func(i, j int) bool {
		return v.Entries[i].Offset < v.Entries[j].Offset
	})
	var buf bytes.Buffer
	for _, entry := range v.Entries {
		if entry.Offset != int64(buf.Len()) {
			return nil, moerr.NewSizeNotMatch(ctx, v.FilePath)
		}
		if entry.ReaderForWrite != nil {
			n, err := io.CopyN(&buf, entry.ReaderForWrite, entry.Size)
			if err != nil || n != entry.Size {
				return nil, moerr.NewSizeNotMatch(ctx, v.FilePath)
			}
			continue
		}
		if int64(len(entry.Data)) != entry.Size {
			return nil, moerr.NewSizeNotMatch(ctx, v.FilePath)
		}
		buf.Write(entry.Data)
	}
	return buf.Bytes(), nil
}

// readRange returns the smallest [min, max) covering all entries; max is -1
// when some entry reads to the end of file.
func (v *IOVector) readRange() (min, max int64) {
	min, max = -1, 0
	for _, entry := range v.Entries {
		if min < 0 || entry.Offset < min {
			min = entry.Offset
		}
		if entry.Size < 0 {
			max = -1
		} else if max >= 0 && entry.Offset+entry.Size > max {
			max = entry.Offset + entry.Size
		}
	}
	if min < 0 {
		min = 0
	}
	return
}

// fill copies content, which starts at file offset base and ends at the end
// of the readable range, into the entries.
func (v *IOVector) fill(ctx context.Context, content []byte, base int64, fileSize int64) error {
	for i := range v.Entries {
		entry := &v.Entries[i]
		size := entry.Size
		if size < 0 {
			size = fileSize - entry.Offset
		}
		if size == 0 {
			return moerr.NewEmptyRange(ctx, v.FilePath)
		}
		start := entry.Offset - base
		end := start + size
		if start < 0 || size < 0 || end > int64(len(content)) {
			return moerr.NewUnexpectedEOF(ctx, v.FilePath)
		}
		data := content[start:end]

		setData := true
		if entry.WriterForRead != nil {
			setData = false
			if _, err := entry.WriterForRead.Write(data); err != nil {
				return moerr.NewIOError(ctx, v.FilePath, err)
			}
		}
		if entry.ReadCloserForRead != nil {
			setData = false
			*entry.ReadCloserForRead = io.NopCloser(bytes.NewReader(data))
		}
		if setData {
			if int64(len(entry.Data)) < size {
				entry.Data = make([]byte, size)
			}
			entry.Data = entry.Data[:size]
			copy(entry.Data, data)
		}
	}
	return nil
}

func ReadFile(ctx context.Context, fs FileService, filePath string) ([]byte, error) {
	vec := IOVector{
		FilePath: filePath,
		Entries:  []IOEntry{{Offset: 0, Size: -1}},
	}
	if err := fs.Read(ctx, &vec); err != nil {
		return nil, err
	}
	return vec.Entries[0].Data, nil
}

func ReadAt(ctx context.Context, fs FileService, filePath string, offset, size int64) ([]byte, error) {
	vec := IOVector{
		FilePath: filePath,
		Entries:  []IOEntry{{Offset: offset, Size: size}},
	}
	if err := fs.Read(ctx, &vec); err != nil {
		return nil, err
	}
	return vec.Entries[0].Data, nil
}

func WriteFile(ctx context.Context, fs FileService, filePath string, data []byte) error {
	return fs.Write(ctx, IOVector{
		FilePath: filePath,
		Entries:  []IOEntry{{Offset: 0, Size: int64(len(data)), Data: data}},
	})
}
