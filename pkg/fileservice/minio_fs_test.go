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
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectStorageArguments(t *testing.T) {
	var args ObjectStorageArguments
	require.NoError(t, args.SetFromString([]string{
		"endpoint=https://127.0.0.1:9000",
		"bucket=colstore",
		"prefix=backend-1",
		"key-id=ak",
		"key-secret=sk",
	}))
	require.Error(t, args.SetFromString([]string{"nonsense"}))
	require.Error(t, args.SetFromString([]string{"color=blue"}))

	require.NoError(t, args.validate())
	require.Equal(t, "object", args.Name)
	secure, err := args.validateEndpoint()
	require.NoError(t, err)
	require.True(t, secure)
	require.Equal(t, "127.0.0.1:9000", args.Endpoint)

	require.Equal(t, "backend-1/data/1/x.dat", args.pathToKey("data/1/x.dat"))
	require.Equal(t, "data/1/x.dat", args.keyToPath("backend-1/data/1/x.dat"))

	require.Error(t, (&ObjectStorageArguments{Bucket: "b"}).validate())
	require.Error(t, (&ObjectStorageArguments{Endpoint: "e"}).validate())
}

// TestMinioFS runs against a real server when COLSTORE_TEST_MINIO_ENDPOINT
// and friends are exported.
func TestMinioFS(t *testing.T) {
	endpoint := os.Getenv("COLSTORE_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("COLSTORE_TEST_MINIO_ENDPOINT not set")
	}
	prefix := fmt.Sprintf("colstore-test-%d", time.Now().UnixNano())
	testFileService(t, func(name string) FileService {
		fs, err := NewMinioFS(context.Background(), ObjectStorageArguments{
			Name:      name,
			Endpoint:  endpoint,
			Bucket:    os.Getenv("COLSTORE_TEST_MINIO_BUCKET"),
			KeyID:     os.Getenv("COLSTORE_TEST_MINIO_KEY_ID"),
			KeySecret: os.Getenv("COLSTORE_TEST_MINIO_KEY_SECRET"),
			KeyPrefix: prefix + "/" + name,
		})
		require.NoError(t, err)
		return fs
	})
}
