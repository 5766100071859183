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

package logutil

import (
	"context"
	"path"
	"regexp"
	"testing"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

func TestLogConfig_getter(t *testing.T) {
	cfg := &LogConfig{
		Level:        "debug",
		Format:       "console",
		DisableStore: true,
	}
	require.Equal(t, zap.NewAtomicLevelAt(zap.DebugLevel), cfg.getLevel())
	require.Equal(t, 2, len(cfg.getOptions()))
	require.Equal(t, getConsoleSyncer(), cfg.getSyncer())
	entry := zapcore.Entry{Level: zapcore.DebugLevel, Message: "console msg"}
	wantMsg, _ := getLoggerEncoder("console").EncodeEntry(entry, nil)
	gotMsg, _ := cfg.getEncoder().EncodeEntry(entry, nil)
	require.Equal(t, wantMsg.String(), gotMsg.String())
	require.Equal(t, 1, len(cfg.getSinks()))
}

func TestSetupLogger(t *testing.T) {
	defer leaktest.AfterTest(t)()
	old := GetGlobalLogger()
	defer replaceGlobalLogger(old)

	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			SetupLogger(&LogConfig{
				Level:           zapcore.DebugLevel.String(),
				Format:          format,
				DisableStore:    true,
				StacktraceLevel: "panic",
			})
			require.NotNil(t, GetGlobalLogger())
			Info("setup", TabletField(1), RowsetField("02"), PathField("/tmp"))
		})
	}
}

func TestSetupLogger_panic(t *testing.T) {
	conf := &LogConfig{
		Level:  zapcore.DebugLevel.String(),
		Format: "panic",
	}
	defer func() {
		if err := recover(); err != nil {
			require.Equal(t, moerr.NewInternalError(context.TODO(), "unsupported log format: %s", conf.Format), err)
		} else {
			t.Errorf("not receive panic")
		}
	}()
	SetupLogger(conf)
}

func TestSetupLogger_panicDir(t *testing.T) {
	conf := &LogConfig{
		Level:    zapcore.DebugLevel.String(),
		Format:   "json",
		Filename: t.TempDir(),
	}
	defer func() {
		if err := recover(); err == nil {
			t.Errorf("not receive panic")
		}
	}()
	SetupLogger(conf)
}

func TestSetupLogger_file(t *testing.T) {
	old := GetGlobalLogger()
	defer replaceGlobalLogger(old)
	conf := &LogConfig{
		Level:    zapcore.InfoLevel.String(),
		Format:   "json",
		Filename: path.Join(t.TempDir(), "storage.log"),
	}
	SetupLogger(conf)
	require.Equal(t, 512, conf.MaxSize)
	Infof("written to %s", conf.Filename)
}

func Test_getLoggerEncoder(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		entry      zapcore.Entry
		wantOutput *regexp.Regexp
	}{
		{
			name:       "console",
			format:     "console",
			entry:      zapcore.Entry{Level: zapcore.DebugLevel, Message: "console msg"},
			wantOutput: regexp.MustCompile(`\d{4}/\d{2}/\d{2} (\d{2}:{0,1}){3}\.\d{6} \+\d{4} DEBUG console msg`),
		},
		{
			name:       "json",
			format:     "json",
			entry:      zapcore.Entry{Level: zapcore.DebugLevel, Message: "json msg"},
			wantOutput: regexp.MustCompile(`\{.*"level":"DEBUG".*"msg":"json msg".*\}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := getLoggerEncoder(tt.format)
			require.NotNil(t, got)
			buf, err := got.EncodeEntry(tt.entry, nil)
			require.Nil(t, err)
			require.Equal(t, 1, len(tt.wantOutput.FindAll(buf.Bytes(), -1)))
		})
	}
}
