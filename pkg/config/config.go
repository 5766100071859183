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

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
	"github.com/matrixorigin/colstore/pkg/fileservice"
	"github.com/matrixorigin/colstore/pkg/logutil"
)

const (
	DefaultPageRows             = 1024
	DefaultShortKeyPageInterval = 4
	DefaultMaxSegmentRows       = 1 << 20
	DefaultCompression          = "lz4"
	DefaultBloomFpp             = 0.05
	DefaultBloomAlgorithm       = "block"
	DefaultBloomHashStrategy    = "murmur3"

	DefaultVectorChunkSize          = 4096
	DefaultCheckConsistencyWorkers  = 1
	DefaultTaskMemoryLimit          = "2GiB"
	DefaultMigrationRate            = "64MiB"
	DefaultCompactionMinRowsets     = 2
	DefaultCompactionMaxRowsets     = 10
	DefaultStorageFloodStageUsage   = 0.95
	DefaultCompactionPreloadWorkers = 4
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type StorageConfig struct {
	// DataDirs are the roots of the data directories, one metadata store each.
	DataDirs             []string `toml:"data-dirs" yaml:"data-dirs"`
	PageRows             int      `toml:"page-rows" yaml:"page-rows"`
	ShortKeyPageInterval int      `toml:"short-key-page-interval" yaml:"short-key-page-interval"`
	MaxSegmentRows       int      `toml:"max-segment-rows" yaml:"max-segment-rows"`
	Compression          string   `toml:"compression" yaml:"compression"`
	BloomFpp             float64  `toml:"bloom-fpp" yaml:"bloom-fpp"`
	BloomAlgorithm       string   `toml:"bloom-algorithm" yaml:"bloom-algorithm"`
	BloomHashStrategy    string   `toml:"bloom-hash-strategy" yaml:"bloom-hash-strategy"`
	// FloodStageUsage is the highest used/total ratio a migration may leave
	// on the destination.
	FloodStageUsage float64 `toml:"flood-stage-usage" yaml:"flood-stage-usage"`
}

type TaskConfig struct {
	VectorChunkSize         int    `toml:"vector-chunk-size" yaml:"vector-chunk-size"`
	CheckConsistencyWorkers int    `toml:"check-consistency-workers" yaml:"check-consistency-workers"`
	MemoryLimit             string `toml:"memory-limit" yaml:"memory-limit"`
	MigrationRate           string `toml:"migration-rate" yaml:"migration-rate"`
	CompactionMinRowsets    int    `toml:"compaction-min-rowsets" yaml:"compaction-min-rowsets"`
	CompactionMaxRowsets    int    `toml:"compaction-max-rowsets" yaml:"compaction-max-rowsets"`
	PreloadWorkers          int    `toml:"preload-workers" yaml:"preload-workers"`

	memoryLimit   int64
	migrationRate int64
}

func (c *TaskConfig) MemoryLimitBytes() int64 {
	return c.memoryLimit
}

func (c *TaskConfig) MigrationBytesPerSecond() int64 {
	return c.migrationRate
}

type KVConfig struct {
	ReadOnly       bool     `toml:"read-only" yaml:"read-only"`
	IterateTimeout Duration `toml:"iterate-timeout" yaml:"iterate-timeout"`
}

type Config struct {
	Log     logutil.LogConfig                   `toml:"log" yaml:"log"`
	Storage StorageConfig                       `toml:"storage" yaml:"storage"`
	Task    TaskConfig                          `toml:"task" yaml:"task"`
	KV      KVConfig                            `toml:"kv" yaml:"kv"`
	Object  *fileservice.ObjectStorageArguments `toml:"object" yaml:"object"`
}

// Load decodes a toml file, or a yaml file when the extension says so,
// then fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, moerr.NewIOError(context.TODO(), path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, moerr.AttachCause(moerr.NewBadConfig(context.TODO(), "decode %s", path), err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, moerr.AttachCause(moerr.NewBadConfig(context.TODO(), "decode %s", path), err)
		}
	}
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) FillDefaults() *Config {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if len(c.Storage.DataDirs) == 0 {
		c.Storage.DataDirs = []string{"./storage"}
	}
	if c.Storage.PageRows == 0 {
		c.Storage.PageRows = DefaultPageRows
	}
	if c.Storage.ShortKeyPageInterval == 0 {
		c.Storage.ShortKeyPageInterval = DefaultShortKeyPageInterval
	}
	if c.Storage.MaxSegmentRows == 0 {
		c.Storage.MaxSegmentRows = DefaultMaxSegmentRows
	}
	if c.Storage.Compression == "" {
		c.Storage.Compression = DefaultCompression
	}
	if c.Storage.BloomFpp == 0 {
		c.Storage.BloomFpp = DefaultBloomFpp
	}
	if c.Storage.BloomAlgorithm == "" {
		c.Storage.BloomAlgorithm = DefaultBloomAlgorithm
	}
	if c.Storage.BloomHashStrategy == "" {
		c.Storage.BloomHashStrategy = DefaultBloomHashStrategy
	}
	if c.Storage.FloodStageUsage == 0 {
		c.Storage.FloodStageUsage = DefaultStorageFloodStageUsage
	}

	if c.Task.VectorChunkSize == 0 {
		c.Task.VectorChunkSize = DefaultVectorChunkSize
	}
	if c.Task.CheckConsistencyWorkers == 0 {
		c.Task.CheckConsistencyWorkers = DefaultCheckConsistencyWorkers
	}
	if c.Task.MemoryLimit == "" {
		c.Task.MemoryLimit = DefaultTaskMemoryLimit
	}
	if c.Task.MigrationRate == "" {
		c.Task.MigrationRate = DefaultMigrationRate
	}
	if c.Task.CompactionMinRowsets == 0 {
		c.Task.CompactionMinRowsets = DefaultCompactionMinRowsets
	}
	if c.Task.CompactionMaxRowsets == 0 {
		c.Task.CompactionMaxRowsets = DefaultCompactionMaxRowsets
	}
	if c.Task.PreloadWorkers == 0 {
		c.Task.PreloadWorkers = DefaultCompactionPreloadWorkers
	}
	return c
}

func (c *Config) Validate() error {
	ctx := context.TODO()
	if c.Storage.PageRows < 0 {
		return moerr.NewBadConfig(ctx, "page-rows must be positive, got %d", c.Storage.PageRows)
	}
	if c.Storage.ShortKeyPageInterval < 0 {
		return moerr.NewBadConfig(ctx, "short-key-page-interval must be positive, got %d", c.Storage.ShortKeyPageInterval)
	}
	if c.Storage.MaxSegmentRows < c.Storage.PageRows {
		return moerr.NewBadConfig(ctx, "max-segment-rows %d is smaller than page-rows %d", c.Storage.MaxSegmentRows, c.Storage.PageRows)
	}
	if _, err := compress.ParseCodec(c.Storage.Compression); err != nil {
		return moerr.NewBadConfig(ctx, "unknown compression %s", c.Storage.Compression)
	}
	if c.Storage.BloomFpp <= 0 || c.Storage.BloomFpp >= 1 {
		return moerr.NewBadConfig(ctx, "bloom-fpp must be in (0, 1), got %v", c.Storage.BloomFpp)
	}
	switch strings.ToLower(c.Storage.BloomAlgorithm) {
	case "block", "binary_fuse":
	default:
		return moerr.NewBadConfig(ctx, "unknown bloom-algorithm %s", c.Storage.BloomAlgorithm)
	}
	switch strings.ToLower(c.Storage.BloomHashStrategy) {
	case "murmur3", "xxhash", "highwayhash":
	default:
		return moerr.NewBadConfig(ctx, "unknown bloom-hash-strategy %s", c.Storage.BloomHashStrategy)
	}
	if c.Storage.FloodStageUsage <= 0 || c.Storage.FloodStageUsage > 1 {
		return moerr.NewBadConfig(ctx, "flood-stage-usage must be in (0, 1], got %v", c.Storage.FloodStageUsage)
	}
	if c.Task.VectorChunkSize < 0 || c.Task.CheckConsistencyWorkers < 0 || c.Task.PreloadWorkers < 0 {
		return moerr.NewBadConfig(ctx, "task sizes must be positive")
	}
	if c.Task.CompactionMinRowsets < 2 || c.Task.CompactionMaxRowsets < c.Task.CompactionMinRowsets {
		return moerr.NewBadConfig(ctx, "invalid compaction rowset bounds [%d, %d]",
			c.Task.CompactionMinRowsets, c.Task.CompactionMaxRowsets)
	}
	limit, err := humanize.ParseBytes(c.Task.MemoryLimit)
	if err != nil {
		return moerr.NewBadConfig(ctx, "invalid memory-limit %s", c.Task.MemoryLimit)
	}
	c.Task.memoryLimit = int64(limit)
	rate, err := humanize.ParseBytes(c.Task.MigrationRate)
	if err != nil || rate == 0 {
		return moerr.NewBadConfig(ctx, "invalid migration-rate %s", c.Task.MigrationRate)
	}
	c.Task.migrationRate = int64(rate)
	if c.KV.IterateTimeout < 0 {
		return moerr.NewBadConfig(ctx, "iterate-timeout must not be negative")
	}
	return nil
}

// CompressionCodec returns the parsed page codec, Validate must have passed.
func (c *Config) CompressionCodec() compress.Codec {
	codec, _ := compress.ParseCodec(c.Storage.Compression)
	return codec
}
