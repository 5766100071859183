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
	"net/url"
	"path"
	"strings"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

type ObjectStorageArguments struct {
	Name      string `toml:"name" yaml:"name"`
	KeyPrefix string `toml:"key-prefix" yaml:"key-prefix"`

	Bucket   string `toml:"bucket" yaml:"bucket"`
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Region   string `toml:"region" yaml:"region"`

	KeyID        string `toml:"key-id" yaml:"key-id"`
	KeySecret    string `toml:"key-secret" yaml:"key-secret"`
	SessionToken string `toml:"session-token" yaml:"session-token"`

	NoBucketValidation bool `toml:"no-bucket-validation" yaml:"no-bucket-validation"`
}

func (o *ObjectStorageArguments) SetFromString(arguments []string) error {
	for _, pair := range arguments {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return moerr.NewInvalidInput(context.TODO(), "invalid object storage argument: %s", pair)
		}
		switch strings.ToLower(key) {
		case "name":
			o.Name = value
		case "prefix", "key-prefix":
			o.KeyPrefix = value
		case "bucket":
			o.Bucket = value
		case "endpoint":
			o.Endpoint = value
		case "region":
			o.Region = value
		case "key", "key-id":
			o.KeyID = value
		case "secret", "key-secret":
			o.KeySecret = value
		case "token", "session-token":
			o.SessionToken = value
		default:
			return moerr.NewInvalidInput(context.TODO(), "invalid object storage argument: %s", pair)
		}
	}
	return nil
}

func (o *ObjectStorageArguments) validate() error {
	if o.Endpoint == "" {
		return moerr.NewBadConfig(context.TODO(), "object storage endpoint is empty")
	}
	if o.Bucket == "" {
		return moerr.NewBadConfig(context.TODO(), "object storage bucket is empty")
	}
	if o.Name == "" {
		o.Name = "object"
	}
	return nil
}

// validateEndpoint strips the scheme from the endpoint and reports whether
// it asked for TLS.
func (o *ObjectStorageArguments) validateEndpoint() (isSecure bool, err error) {
	if !strings.Contains(o.Endpoint, "://") {
		return false, nil
	}
	endpointURL, err := url.Parse(o.Endpoint)
	if err != nil {
		return false, moerr.NewBadConfig(context.TODO(), "invalid endpoint %s", o.Endpoint)
	}
	isSecure = endpointURL.Scheme == "https"
	endpointURL.Scheme = ""
	o.Endpoint = strings.TrimLeft(endpointURL.String(), "/")
	return
}

func (o *ObjectStorageArguments) pathToKey(filePath string) string {
	if o.KeyPrefix == "" {
		return filePath
	}
	return path.Join(o.KeyPrefix, filePath)
}

func (o *ObjectStorageArguments) keyToPath(key string) string {
	if o.KeyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, o.KeyPrefix), "/")
}
