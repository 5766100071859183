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

package engine

import (
	"context"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/matrixorigin/colstore/pkg/logutil"
	"github.com/matrixorigin/colstore/pkg/storage/rowset"
)

// SweepOrphanFiles deletes the segment files of every data dir that no
// visible rowset references and whose rowset id is not in use by a
// writer. It returns how many files were removed.
func (e *StorageEngine) SweepOrphanFiles(ctx context.Context) (int, error) {
	total := 0
	for _, d := range e.dirs {
		n, err := d.sweepOrphanFiles(ctx, e.idGen)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (d *DataDir) sweepOrphanFiles(ctx context.Context, idGen rowset.IDGenerator) (int, error) {
	referenced := make(map[rowset.RowsetID]struct{})
	for _, t := range d.tablets.Tablets() {
		for _, rs := range t.Rowsets() {
			referenced[rs.ID()] = struct{}{}
		}
	}
	dirs, err := d.fs.List(ctx, rowset.DataDirName)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, dir := range dirs {
		if _, err := strconv.ParseInt(dir.Name, 10, 64); err != nil {
			continue
		}
		tabletDir := path.Join(rowset.DataDirName, dir.Name)
		files, err := d.fs.List(ctx, tabletDir)
		if err != nil {
			return removed, err
		}
		var orphans []string
		for _, f := range files {
			if f.IsDir {
				continue
			}
			id, _, err := rowset.ParseSegmentFileName(f.Name)
			if err != nil {
				logutil.Warn("skip unknown file", logutil.PathField(path.Join(tabletDir, f.Name)))
				continue
			}
			if _, ok := referenced[id]; ok || idGen.IDInUse(id) {
				continue
			}
			orphans = append(orphans, path.Join(tabletDir, f.Name))
		}
		if len(orphans) == 0 {
			continue
		}
		if err := d.fs.Delete(ctx, orphans...); err != nil {
			return removed, err
		}
		removed += len(orphans)
	}
	if removed > 0 {
		logutil.Info("swept orphan segment files", logutil.PathField(d.path), zap.Int("files", removed))
	}
	return removed, nil
}
