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

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()
)

func GetRegistry() *prometheus.Registry {
	return registry
}

func init() {
	initIndexMetrics()
	initTaskMetrics()
	initKVMetrics()
}

func initIndexMetrics() {
	registry.MustRegister(indexLoadCounter)
}

func initTaskMetrics() {
	registry.MustRegister(taskCounter)
	registry.MustRegister(TaskDurationHistogram)
	registry.MustRegister(TaskBytesCounter)
}

func initKVMetrics() {
	registry.MustRegister(kvOpCounter)
	registry.MustRegister(KVIterateDurationHistogram)
}

var (
	indexLoadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "colstore",
			Subsystem: "index",
			Name:      "load_total",
			Help:      "Total number of index load calls, split by loaded and waited.",
		}, []string{"type", "result"})

	ZoneMapLoadedCounter     = indexLoadCounter.WithLabelValues("zone_map", "loaded")
	ZoneMapWaitedCounter     = indexLoadCounter.WithLabelValues("zone_map", "waited")
	BloomFilterLoadedCounter = indexLoadCounter.WithLabelValues("bloom_filter", "loaded")
	BloomFilterWaitedCounter = indexLoadCounter.WithLabelValues("bloom_filter", "waited")
	ShortKeyLoadedCounter    = indexLoadCounter.WithLabelValues("short_key", "loaded")
	ShortKeyWaitedCounter    = indexLoadCounter.WithLabelValues("short_key", "waited")
)

var (
	taskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "colstore",
			Subsystem: "task",
			Name:      "total",
			Help:      "Total number of engine tasks executed.",
		}, []string{"type", "result"})

	ChecksumSucceedCounter     = taskCounter.WithLabelValues("checksum", "succeed")
	ChecksumFailedCounter      = taskCounter.WithLabelValues("checksum", "failed")
	ChecksumInterruptedCounter = taskCounter.WithLabelValues("checksum", "interrupted")

	CompactionSucceedCounter     = taskCounter.WithLabelValues("compaction", "succeed")
	CompactionFailedCounter      = taskCounter.WithLabelValues("compaction", "failed")
	CompactionInterruptedCounter = taskCounter.WithLabelValues("compaction", "interrupted")

	MigrationSucceedCounter     = taskCounter.WithLabelValues("migration", "succeed")
	MigrationFailedCounter      = taskCounter.WithLabelValues("migration", "failed")
	MigrationInterruptedCounter = taskCounter.WithLabelValues("migration", "interrupted")

	TaskDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "colstore",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Bucketed histogram of engine task duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.0, 20),
		}, []string{"type"})

	TaskBytesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "colstore",
			Subsystem: "task",
			Name:      "bytes_total",
			Help:      "Total bytes read or written by engine tasks.",
		}, []string{"type"})
)

var (
	kvOpCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "colstore",
			Subsystem: "kv",
			Name:      "op_total",
			Help:      "Total number of metadata store operations.",
		}, []string{"type"})

	KVGetCounter         = kvOpCounter.WithLabelValues("get")
	KVPutCounter         = kvOpCounter.WithLabelValues("put")
	KVDeleteCounter      = kvOpCounter.WithLabelValues("delete")
	KVBatchCounter       = kvOpCounter.WithLabelValues("batch")
	KVIterateCounter     = kvOpCounter.WithLabelValues("iterate")
	KVRangeDeleteCounter = kvOpCounter.WithLabelValues("range_delete")

	KVIterateDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "colstore",
			Subsystem: "kv",
			Name:      "iterate_duration_seconds",
			Help:      "Bucketed histogram of metadata store iteration duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2.0, 20),
		})
)
