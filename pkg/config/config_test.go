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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/compress"
)

const tomlConf = `
[log]
level = "debug"
format = "json"

[storage]
data-dirs = ["/data1", "/data2"]
page-rows = 512
compression = "zstd"
bloom-algorithm = "binary_fuse"
bloom-hash-strategy = "xxhash"

[task]
vector-chunk-size = 1024
memory-limit = "512MiB"
migration-rate = "10MB"

[kv]
read-only = true
iterate-timeout = "30s"
`

const yamlConf = `
log:
  level: warn
storage:
  data-dirs: [/data3]
  page-rows: 256
task:
  check-consistency-workers: 4
kv:
  iterate-timeout: 2m
`

func writeConf(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("load a toml config", t, func() {
		cfg, err := Load(writeConf(t, "colstore.toml", tomlConf))
		So(err, ShouldBeNil)
		So(cfg.Log.Level, ShouldEqual, "debug")
		So(cfg.Log.Format, ShouldEqual, "json")
		So(cfg.Storage.DataDirs, ShouldResemble, []string{"/data1", "/data2"})
		So(cfg.Storage.PageRows, ShouldEqual, 512)
		So(cfg.Storage.ShortKeyPageInterval, ShouldEqual, DefaultShortKeyPageInterval)
		So(cfg.CompressionCodec(), ShouldEqual, compress.Zstd)
		So(cfg.Storage.BloomAlgorithm, ShouldEqual, "binary_fuse")
		So(cfg.Task.VectorChunkSize, ShouldEqual, 1024)
		So(cfg.Task.MemoryLimitBytes(), ShouldEqual, 512<<20)
		So(cfg.Task.MigrationBytesPerSecond(), ShouldEqual, 10*1000*1000)
		So(cfg.KV.ReadOnly, ShouldBeTrue)
		So(cfg.KV.IterateTimeout.Duration(), ShouldEqual, 30*time.Second)
	})

	Convey("load a yaml config", t, func() {
		cfg, err := Load(writeConf(t, "colstore.yaml", yamlConf))
		So(err, ShouldBeNil)
		So(cfg.Log.Level, ShouldEqual, "warn")
		So(cfg.Log.Format, ShouldEqual, "console")
		So(cfg.Storage.DataDirs, ShouldResemble, []string{"/data3"})
		So(cfg.Storage.PageRows, ShouldEqual, 256)
		So(cfg.Task.CheckConsistencyWorkers, ShouldEqual, 4)
		So(cfg.KV.IterateTimeout.Duration(), ShouldEqual, 2*time.Minute)
		So(cfg.Task.MemoryLimitBytes(), ShouldEqual, 2<<30)
	})

	Convey("missing file and bad content", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		So(moerr.IsMoErrCode(err, moerr.ErrBadConfig), ShouldBeTrue)

		_, err = Load(writeConf(t, "bad.toml", "[storage\npage-rows = 1"))
		So(moerr.IsMoErrCode(err, moerr.ErrBadConfig), ShouldBeTrue)

		_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
		So(moerr.IsMoErrCode(err, moerr.ErrIOError), ShouldBeTrue)
	})
}

func TestValidate(t *testing.T) {
	Convey("defaults are valid", t, func() {
		cfg := (&Config{}).FillDefaults()
		So(cfg.Validate(), ShouldBeNil)
		So(cfg.CompressionCodec(), ShouldEqual, compress.Lz4)
		So(cfg.Storage.BloomFpp, ShouldEqual, DefaultBloomFpp)
	})

	Convey("invalid values are rejected", t, func() {
		cases := []func(c *Config){
			func(c *Config) { c.Storage.Compression = "gzip" },
			func(c *Config) { c.Storage.BloomFpp = 1.5 },
			func(c *Config) { c.Storage.BloomAlgorithm = "cuckoo" },
			func(c *Config) { c.Storage.BloomHashStrategy = "md5" },
			func(c *Config) { c.Storage.MaxSegmentRows = 10 },
			func(c *Config) { c.Task.MemoryLimit = "lots" },
			func(c *Config) { c.Task.MigrationRate = "0" },
			func(c *Config) { c.Task.CompactionMinRowsets = 1 },
			func(c *Config) { c.KV.IterateTimeout = -1 },
		}
		for _, mutate := range cases {
			cfg := (&Config{}).FillDefaults()
			mutate(cfg)
			err := cfg.Validate()
			So(moerr.IsMoErrCode(err, moerr.ErrBadConfig), ShouldBeTrue)
		}
	})
}
