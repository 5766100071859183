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
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

func testFileService(
	t *testing.T,
	newFS func(name string) FileService,
) {

	t.Run("basic", func(t *testing.T) {
		ctx := context.Background()
		fs := newFS("basic")

		err := fs.Write(ctx, IOVector{
			FilePath: "foo",
			Entries: []IOEntry{
				{
					Offset: 0,
					Size:   4,
					Data:   []byte("1234"),
				},
				{
					Offset: 4,
					Size:   4,
					Data:   []byte("5678"),
				},
				{
					Offset:         8,
					Size:           3,
					ReaderForWrite: bytes.NewReader([]byte("9ab")),
				},
			},
		})
		assert.Nil(t, err)

		buf1 := new(bytes.Buffer)
		var r io.ReadCloser
		buf2 := make([]byte, 4)
		vec := IOVector{
			FilePath: "foo",
			Entries: []IOEntry{
				0: {
					Offset: 2,
					Size:   2,
				},
				1: {
					Offset: 2,
					Size:   4,
					Data:   buf2,
				},
				2: {
					Offset: 7,
					Size:   1,
				},
				3: {
					Offset: 0,
					Size:   1,
				},
				4: {
					Offset:            0,
					Size:              7,
					ReadCloserForRead: &r,
				},
				5: {
					Offset:        4,
					Size:          2,
					WriterForRead: buf1,
				},
				6: {
					Offset: 0,
					Size:   -1,
				},
			},
		}
		err = fs.Read(ctx, &vec)
		assert.Nil(t, err)
		assert.Equal(t, []byte("34"), vec.Entries[0].Data)
		assert.Equal(t, []byte("3456"), vec.Entries[1].Data)
		assert.Equal(t, []byte("3456"), buf2)
		assert.Equal(t, []byte("8"), vec.Entries[2].Data)
		assert.Equal(t, []byte("1"), vec.Entries[3].Data)
		content, err := io.ReadAll(r)
		assert.Nil(t, err)
		assert.Nil(t, r.Close())
		assert.Equal(t, []byte("1234567"), content)
		assert.Equal(t, []byte("56"), buf1.Bytes())
		assert.Equal(t, []byte("123456789ab"), vec.Entries[6].Data)

		// read from non-zero offset
		data, err := ReadAt(ctx, fs, "foo", 7, 1)
		assert.Nil(t, err)
		assert.Equal(t, []byte("8"), data)

		entry, err := fs.Stat(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, int64(11), entry.Size)
		assert.Equal(t, "foo", entry.Name)
	})

	t.Run("sub path and list", func(t *testing.T) {
		ctx := context.Background()
		fs := newFS("list")

		for _, p := range []string{"data/1/a.dat", "data/1/b.dat", "data/2/c.dat", "data/top"} {
			require.NoError(t, WriteFile(ctx, fs, p, []byte(p)))
		}

		entries, err := fs.List(ctx, "data")
		require.NoError(t, err)
		require.Equal(t, []DirEntry{
			{Name: "1", IsDir: true},
			{Name: "2", IsDir: true},
			{Name: "top", Size: int64(len("data/top"))},
		}, clearDirSize(entries))

		entries, err = fs.List(ctx, "data/1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "a.dat", entries[0].Name)
		require.Equal(t, int64(len("data/1/a.dat")), entries[0].Size)

		entries, err = fs.List(ctx, "absent")
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("errors", func(t *testing.T) {
		ctx := context.Background()
		fs := newFS("errors")

		require.NoError(t, WriteFile(ctx, fs, "x", []byte("abc")))
		err := WriteFile(ctx, fs, "x", []byte("def"))
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrFileAlreadyExists))

		_, err = ReadFile(ctx, fs, "missing")
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrFileNotFound))
		_, err = fs.Stat(ctx, "missing")
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrFileNotFound))

		_, err = ReadAt(ctx, fs, "x", 1, 10)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrUnexpectedEOF))
		_, err = ReadAt(ctx, fs, "x", 1, 0)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrEmptyRange))

		err = WriteFile(ctx, fs, "../escape", []byte("a"))
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidPath))

		err = fs.Write(ctx, IOVector{
			FilePath: "holes",
			Entries: []IOEntry{
				{Offset: 0, Size: 1, Data: []byte("a")},
				{Offset: 2, Size: 1, Data: []byte("b")},
			},
		})
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrSizeNotMatch))
		_, err = fs.Stat(ctx, "holes")
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrFileNotFound))
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		fs := newFS("delete")
		require.NoError(t, WriteFile(ctx, fs, "d/1", []byte("1")))
		require.NoError(t, WriteFile(ctx, fs, "d/2", []byte("2")))
		require.NoError(t, fs.Delete(ctx, "d/1", "d/absent"))
		_, err := fs.Stat(ctx, "d/1")
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrFileNotFound))
		data, err := ReadFile(ctx, fs, "d/2")
		require.NoError(t, err)
		require.Equal(t, []byte("2"), data)
	})

	t.Run("random", func(t *testing.T) {
		ctx := context.Background()
		fs := newFS("random")
		for i := 0; i < 8; i++ {
			content := make([]byte, mrand.Intn(4096)+1)
			_, err := rand.Read(content)
			require.NoError(t, err)
			filePath := fmt.Sprintf("r/%d", i)
			require.NoError(t, WriteFile(ctx, fs, filePath, content))

			off := mrand.Intn(len(content))
			size := mrand.Intn(len(content)-off) + 1
			data, err := ReadAt(ctx, fs, filePath, int64(off), int64(size))
			require.NoError(t, err)
			require.Equal(t, content[off:off+size], data)
		}
	})
}

func clearDirSize(entries []DirEntry) []DirEntry {
	for i := range entries {
		if entries[i].IsDir {
			entries[i].Size = 0
		}
	}
	return entries
}
