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
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/matrixorigin/colstore/pkg/common/moerr"
)

// LogConfig serializes log related config in toml/yaml/json.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"`
	Filename   string `toml:"filename" yaml:"filename"`
	MaxSize    int    `toml:"max-size" yaml:"max-size"`
	MaxDays    int    `toml:"max-days" yaml:"max-days"`
	MaxBackups int    `toml:"max-backups" yaml:"max-backups"`
	// DisableStore disables the file sink even when Filename is set.
	DisableStore bool `toml:"disable-store" yaml:"disable-store"`
	// StacktraceLevel is the lowest level with a stack trace attached.
	StacktraceLevel string `toml:"stacktrace-level" yaml:"stacktrace-level"`
}

// ZapSink is one encoder/output pair of the process logger.
type ZapSink struct {
	enc zapcore.Encoder
	out zapcore.WriteSyncer
}

var gLogger atomic.Value

func init() {
	SetupLogger(&LogConfig{
		Level:  zapcore.InfoLevel.String(),
		Format: "console",
	})
}

// SetupLogger builds the process logger from conf and replaces the global one.
func SetupLogger(conf *LogConfig) {
	replaceGlobalLogger(conf.build())
}

func (cfg *LogConfig) build() *zap.Logger {
	sinks := cfg.getSinks()
	cores := make([]zapcore.Core, 0, len(sinks))
	level := cfg.getLevel()
	for _, sink := range sinks {
		cores = append(cores, zapcore.NewCore(sink.enc, sink.out, level))
	}
	return zap.New(zapcore.NewTee(cores...), cfg.getOptions()...)
}

func replaceGlobalLogger(logger *zap.Logger) {
	gLogger.Store(logger)
}

// GetGlobalLogger returns the process logger.
func GetGlobalLogger() *zap.Logger {
	return gLogger.Load().(*zap.Logger)
}

// GetNopLogger is handy for components that must not log, e.g. in benchmarks.
func GetNopLogger() *zap.Logger {
	return zap.NewNop()
}

func (cfg *LogConfig) getLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		panic(moerr.NewInternalError(context.TODO(), "unsupported log level: %s", cfg.Level))
	}
	return level
}

func (cfg *LogConfig) getStacktraceLevel() zapcore.Level {
	if cfg.StacktraceLevel == "" {
		return zapcore.FatalLevel
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.StacktraceLevel)); err != nil {
		panic(moerr.NewInternalError(context.TODO(), "unsupported stacktrace level: %s", cfg.StacktraceLevel))
	}
	return level
}

func (cfg *LogConfig) getOptions() []zap.Option {
	return []zap.Option{zap.AddStacktrace(cfg.getStacktraceLevel()), zap.AddCaller()}
}

func (cfg *LogConfig) getSyncer() zapcore.WriteSyncer {
	if cfg.Filename == "" || cfg.DisableStore {
		return getConsoleSyncer()
	}
	if stat, err := os.Stat(cfg.Filename); err == nil && stat.IsDir() {
		panic(moerr.NewInternalError(context.TODO(), "log file can't be a directory: %s", cfg.Filename))
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 512
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
		Compress:   false,
	})
}

func (cfg *LogConfig) getEncoder() zapcore.Encoder {
	return getLoggerEncoder(cfg.Format)
}

func (cfg *LogConfig) getSinks() []ZapSink {
	return []ZapSink{{cfg.getEncoder(), cfg.getSyncer()}}
}

func getConsoleSyncer() zapcore.WriteSyncer {
	syncer, _, err := zap.Open("stderr")
	if err != nil {
		panic(err)
	}
	return syncer
}

func getLoggerEncoder(format string) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "name",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000 -0700"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	switch format {
	case "json", "":
		return zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		return zapcore.NewConsoleEncoder(encoderConfig)
	default:
		panic(moerr.NewInternalError(context.TODO(), "unsupported log format: %s", format))
	}
}

func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

// Debugf only use in develop mode
func Debugf(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Debugf(msg, fields...)
}

// Infof only use in develop mode
func Infof(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Infof(msg, fields...)
}

// Warnf only use in develop mode
func Warnf(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Warnf(msg, fields...)
}

// Errorf only use in develop mode
func Errorf(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel)).Sugar().Errorf(msg, fields...)
}

// Fatalf only use in develop mode
func Fatalf(msg string, fields ...interface{}) {
	GetGlobalLogger().WithOptions(zap.AddCallerSkip(1)).Sugar().Fatalf(msg, fields...)
}

func TabletField(tabletID int64) zap.Field {
	return zap.Int64("tablet", tabletID)
}

func RowsetField(rowsetID string) zap.Field {
	return zap.String("rowset", rowsetID)
}

func PathField(path string) zap.Field {
	return zap.String("path", path)
}

func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

func DurationField(d time.Duration) zap.Field {
	return zap.Duration("duration", d)
}
