/*---------------------------------------------------------------------------------------------
 *  Copyright (c) the dapkit authors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package logger constructs the process logger: a zap core wrapped in the
// logr API, writing human-readable output to stderr.
//
// Stderr is not negotiable for a debug adapter: in stdio mode stdout carries
// the protocol stream, so a single stray log line there corrupts framing.
package logger

import (
	"os"
	"runtime"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

// Logger wraps a logr.Logger with runtime level control and an explicit
// flush.
type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New builds a Logger named name, writing console-formatted output to stderr
// at Info level until the verbosity flag or SetLevel says otherwise.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Honor Windows line endings for logs if appropriate
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = "\r\n"
	}
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	atomicLevel := zap.NewAtomicLevel()
	core := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atomicLevel)
	zapLogger := zap.New(core)

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		name:        name,
		atomicLevel: atomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

// SetLevel changes the minimum level of console output.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

// Flush writes out any buffered log entries. Call before process exit.
func (l *Logger) Flush() {
	l.flush()
}

// AddLevelFlag registers the verbosity flag that controls the console log
// level.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	levelVal := NewLevelFlagValue(func(level zapcore.Level) {
		l.SetLevel(level)
	})
	fs.VarP(&levelVal, verbosityFlagName, verbosityFlagShortName,
		"Logging verbosity level (e.g. -v=debug). Can be one of 'debug', 'info', or 'error', or any positive integer corresponding to increasing levels of debug verbosity.")
}
