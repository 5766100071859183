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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestIndexLoadCounter(t *testing.T) {
	before := testutil.ToFloat64(ZoneMapLoadedCounter)
	ZoneMapLoadedCounter.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(ZoneMapLoadedCounter))
}

func TestRegistryGather(t *testing.T) {
	KVGetCounter.Inc()
	families, err := GetRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}
	require.Contains(t, names, "colstore_kv_op_total")
	require.Contains(t, names, "colstore_index_load_total")
}
