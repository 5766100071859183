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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
	"github.com/matrixorigin/colstore/pkg/config"
	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/engine"
	"github.com/matrixorigin/colstore/pkg/storage/tablet"
	"github.com/matrixorigin/colstore/pkg/storage/task"
)

var (
	configFile = flag.String("cfg", "./colstore.toml", "toml or yaml configuration of the storage engine")
	command    = flag.String("cmd", "meta", "one of meta, checksum, compact, migrate, gc")
	tabletID   = flag.Int64("tablet", 0, "tablet id, 0 means every tablet")
	version    = flag.Int64("version", -1, "checksum version, -1 means the latest")
	destDir    = flag.String("dest", "", "destination data dir of migrate")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config from %s, error: %s", *configFile, err.Error()))
	}
	logutil.SetupLogger(&cfg.Log)

	ctx := context.Background()
	e, err := engine.Open(ctx, cfg)
	if err != nil {
		logutil.Fatal("failed to open storage engine", logutil.ErrorField(err))
	}
	go waitSignalToStop(e)

	err = run(ctx, e, cfg)
	if cerr := e.Close(); cerr != nil {
		logutil.Warn("failed to close storage engine", logutil.ErrorField(cerr))
	}
	if err != nil {
		logutil.Error("command failed", zap.String("cmd", *command), logutil.ErrorField(err))
		os.Exit(1)
	}
}

func waitSignalToStop(e *engine.StorageEngine) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGTERM, syscall.SIGINT)
	<-sigchan
	e.StopBgWorkers()
}

func run(ctx context.Context, e *engine.StorageEngine, cfg *config.Config) error {
	switch strings.ToLower(*command) {
	case "meta":
		printMeta(e)
		return nil
	case "gc":
		n, err := e.SweepOrphanFiles(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d orphan files\n", n)
		return nil
	case "checksum":
		return forEachTablet(ctx, e, cfg.Task.CheckConsistencyWorkers, func(t *tablet.Tablet) error {
			v := *version
			if v < 0 {
				v = t.MaxVersion().End
			}
			var sum uint64
			if err := task.NewChecksumTask(e, nil, t.ID(), v, &sum).Execute(ctx); err != nil {
				return err
			}
			fmt.Printf("tablet %d version %d checksum %d\n", t.ID(), v, sum)
			return nil
		})
	case "compact":
		return forEachTablet(ctx, e, cfg.Task.PreloadWorkers, func(t *tablet.Tablet) error {
			ct := task.NewCompactionTask(e, nil, t.ID())
			if err := ct.Execute(ctx); err != nil {
				return err
			}
			if out := ct.Output(); out != nil {
				fmt.Printf("tablet %d compacted into %s\n", t.ID(), out)
			}
			return nil
		})
	case "migrate":
		if *tabletID == 0 || *destDir == "" {
			return moerr.NewInvalidInput(ctx, "migrate needs -tablet and -dest")
		}
		return task.NewStorageMigrationTask(e, *tabletID, *destDir).Execute(ctx)
	default:
		return moerr.NewInvalidArg(ctx, "cmd", *command)
	}
}

func printMeta(e *engine.StorageEngine) {
	for _, d := range e.DataDirs() {
		fmt.Printf("data dir %s, %s available\n", d.Path(), humanize.IBytes(uint64(max(d.Available(), 0))))
		for _, t := range d.Tablets().Tablets() {
			if *tabletID != 0 && t.ID() != *tabletID {
				continue
			}
			fmt.Printf("  %s state %s rows %d\n", t, t.State(), t.NumRows())
			for _, rs := range t.Rowsets() {
				fmt.Printf("    %s\n", rs.Meta())
			}
		}
	}
}

// forEachTablet runs fn on the selected tablets through a pool of workers
// and returns the first error.
func forEachTablet(ctx context.Context, e *engine.StorageEngine, workers int, fn func(t *tablet.Tablet) error) error {
	var tablets []*tablet.Tablet
	if *tabletID != 0 {
		t, _, err := e.GetTablet(ctx, *tabletID)
		if err != nil {
			return err
		}
		tablets = append(tablets, t)
	} else {
		tablets = e.Tablets()
	}

	pool, err := ants.NewPool(max(1, workers))
	if err != nil {
		return err
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, t := range tablets {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := fn(t); err != nil {
				logutil.Warn("task failed", logutil.TabletField(t.ID()), logutil.ErrorField(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}); err != nil {
			wg.Done()
			return err
		}
	}
	wg.Wait()
	return firstErr
}
