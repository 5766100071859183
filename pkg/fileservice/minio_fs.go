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
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/logutil"
)

// MinioFS is a FileService implementation backed by an S3 compatible object
// storage. PutObject is atomic, so a file never shows up half written.
type MinioFS struct {
	args   ObjectStorageArguments
	client *minio.Client
}

var _ FileService = new(MinioFS)

func NewMinioFS(ctx context.Context, args ObjectStorageArguments) (*MinioFS, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	isSecure, err := args.validateEndpoint()
	if err != nil {
		return nil, err
	}

	options := &minio.Options{
		Secure: isSecure,
		Region: args.Region,
	}
	if args.KeyID != "" && args.KeySecret != "" {
		options.Creds = credentials.NewStaticV4(args.KeyID, args.KeySecret, args.SessionToken)
	} else {
		options.Creds = credentials.NewChainCredentials([]credentials.Provider{
			new(credentials.EnvAWS),
			new(credentials.EnvMinio),
		})
	}

	client, err := minio.New(args.Endpoint, options)
	if err != nil {
		return nil, moerr.AttachCause(moerr.NewBadConfig(ctx, "new minio client for %s", args.Endpoint), err)
	}

	logutil.Info("new object storage",
		zap.String("sdk", "minio"),
		zap.String("endpoint", args.Endpoint),
		zap.String("bucket", args.Bucket),
	)

	if !args.NoBucketValidation {
		ok, err := client.BucketExists(ctx, args.Bucket)
		if err != nil {
			return nil, moerr.NewIOError(ctx, args.Bucket, err)
		}
		if !ok {
			return nil, moerr.NewBadConfig(ctx, "no such bucket or no permissions: %s", args.Bucket)
		}
	}

	return &MinioFS{
		args:   args,
		client: client,
	}, nil
}

func (m *MinioFS) Name() string {
	return m.args.Name
}

func (m *MinioFS) Write(ctx context.Context, vector IOVector) error {
	filePath, err := validatePath(ctx, vector.FilePath)
	if err != nil {
		return err
	}
	vector.FilePath = filePath
	key := m.args.pathToKey(filePath)

	if _, err := m.client.StatObject(ctx, m.args.Bucket, key, minio.StatObjectOptions{}); err == nil {
		return moerr.NewFileAlreadyExists(ctx, filePath)
	} else if !is404(err) {
		return moerr.NewIOError(ctx, filePath, err)
	}

	content, err := vector.content(ctx)
	if err != nil {
		return err
	}
	// not retryable because Reader may be half consumed
	if _, err := m.client.PutObject(
		ctx,
		m.args.Bucket,
		key,
		bytes.NewReader(content),
		int64(len(content)),
		minio.PutObjectOptions{},
	); err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	return nil
}

func (m *MinioFS) Read(ctx context.Context, vector *IOVector) error {
	filePath, err := validatePath(ctx, vector.FilePath)
	if err != nil {
		return err
	}
	key := m.args.pathToKey(filePath)

	info, err := m.client.StatObject(ctx, m.args.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if is404(err) {
			return moerr.NewFileNotFound(ctx, filePath)
		}
		return moerr.NewIOError(ctx, filePath, err)
	}

	min, max := vector.readRange()
	if max < 0 || max > info.Size {
		max = info.Size
	}
	if min >= max {
		return moerr.NewEmptyRange(ctx, filePath)
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(min, max-1); err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	obj, err := m.client.GetObject(ctx, m.args.Bucket, key, opts)
	if err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	defer obj.Close()
	content, err := io.ReadAll(io.LimitReader(obj, max-min))
	if err != nil {
		return moerr.NewIOError(ctx, filePath, err)
	}
	return vector.fill(ctx, content, min, info.Size)
}

func (m *MinioFS) Stat(ctx context.Context, filePath string) (*DirEntry, error) {
	filePath, err := validatePath(ctx, filePath)
	if err != nil {
		return nil, err
	}
	info, err := m.client.StatObject(ctx, m.args.Bucket, m.args.pathToKey(filePath), minio.StatObjectOptions{})
	if err != nil {
		if is404(err) {
			return nil, moerr.NewFileNotFound(ctx, filePath)
		}
		return nil, moerr.NewIOError(ctx, filePath, err)
	}
	return &DirEntry{
		Name: baseName(filePath),
		Size: info.Size,
	}, nil
}

func (m *MinioFS) List(ctx context.Context, dirPath string) (ret []DirEntry, err error) {
	prefix := ""
	if dirPath != "" && dirPath != "." {
		if dirPath, err = validatePath(ctx, dirPath); err != nil {
			return nil, err
		}
		prefix = dirPath + "/"
	}
	keyPrefix := m.args.pathToKey(prefix)
	if prefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}

	for obj := range m.client.ListObjects(ctx, m.args.Bucket, minio.ListObjectsOptions{
		Prefix:    keyPrefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, moerr.NewIOError(ctx, dirPath, obj.Err)
		}
		name := strings.TrimPrefix(m.args.keyToPath(obj.Key), prefix)
		if strings.HasSuffix(name, "/") {
			ret = append(ret, DirEntry{Name: strings.TrimSuffix(name, "/"), IsDir: true})
			continue
		}
		ret = append(ret, DirEntry{Name: name, Size: obj.Size})
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return ret, nil
}

func (m *MinioFS) Delete(ctx context.Context, filePaths ...string) error {
	for _, filePath := range filePaths {
		filePath, err := validatePath(ctx, filePath)
		if err != nil {
			return err
		}
		if err := m.client.RemoveObject(
			ctx,
			m.args.Bucket,
			m.args.pathToKey(filePath),
			minio.RemoveObjectOptions{},
		); err != nil && !is404(err) {
			return moerr.NewIOError(ctx, filePath, err)
		}
	}
	return nil
}

func is404(err error) bool {
	if err == nil {
		return false
	}
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		resp = minio.ToErrorResponse(err)
	}
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
