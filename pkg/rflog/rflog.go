// Copyright 2021 Matrix Origin
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

// Package rflog is a thin zap wrapper: package-level helpers over one
// global logger, structured fields for the hot paths, sugared ...f
// variants for the cold ones.
package rflog

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var global atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewProduction()
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// SetLogger replaces the package-global logger. Used by hosts that want
// their own zap core (e.g. a development logger in tests).
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

func logger() *zap.Logger {
	return global.Load().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { logger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { logger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { logger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { logger().Error(msg, fields...) }

func Debugf(msg string, args ...any) { logger().Sugar().Debugf(msg, args...) }
func Infof(msg string, args ...any)  { logger().Sugar().Infof(msg, args...) }
func Warnf(msg string, args ...any)  { logger().Sugar().Warnf(msg, args...) }
func Errorf(msg string, args ...any) { logger().Sugar().Errorf(msg, args...) }
