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

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// FileWriter builds a file by appending blocks and publishes it in one
// Write on Sync, so readers never observe a partial file.
type FileWriter struct {
	fs       FileService
	filePath string
	buf      bytes.Buffer
	synced   bool
	aborted  bool
}

func NewFileWriter(fs FileService, filePath string) *FileWriter {
	return &FileWriter{
		fs:       fs,
		filePath: filePath,
	}
}

func (w *FileWriter) Path() string {
	return w.filePath
}

func (w *FileWriter) FileService() FileService {
	return w.fs
}

// Append adds data at the end of the file and returns its offset.
func (w *FileWriter) Append(data []byte) (int64, error) {
	if w.synced || w.aborted {
		return 0, moerr.NewInvalidState(context.TODO(), "append to finished file %s", w.filePath)
	}
	offset := int64(w.buf.Len())
	w.buf.Write(data)
	return offset, nil
}

func (w *FileWriter) Size() int64 {
	return int64(w.buf.Len())
}

func (w *FileWriter) Synced() bool {
	return w.synced
}

func (w *FileWriter) Sync(ctx context.Context) error {
	if w.synced {
		return nil
	}
	if w.aborted {
		return moerr.NewInvalidState(context.TODO(), "sync aborted file %s", w.filePath)
	}
	if err := WriteFile(ctx, w.fs, w.filePath, w.buf.Bytes()); err != nil {
		return err
	}
	w.synced = true
	w.buf = bytes.Buffer{}
	return nil
}

// Abort drops the buffered content, and the file itself if it was synced.
func (w *FileWriter) Abort(ctx context.Context) error {
	if w.aborted {
		return nil
	}
	w.aborted = true
	w.buf = bytes.Buffer{}
	if w.synced {
		return w.fs.Delete(ctx, w.filePath)
	}
	return nil
}
