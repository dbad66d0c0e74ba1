// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logging contract. Every component takes a
// Logger instead of a concrete implementation so tests can run against the
// same constructor the services use.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	// Benchmark records how long a named stage took.
	Benchmark(name string, elapsed time.Duration)

	Sync() error
}

type applicationLogger struct {
	sugar *zap.SugaredLogger
}

// NewApplicationLogger builds the default zap-backed logger. When LOG_FILE is
// set the output additionally goes through a lumberjack rotating file sink.
// LOG_LEVEL controls verbosity (debug, info, warn, error; default debug).
func NewApplicationLogger() (Logger, error) {
	level := zapcore.DebugLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}
	if path := os.Getenv("LOG_FILE"); path != "" {
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotating), level))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &applicationLogger{sugar: base.Sugar()}, nil
}

func (l *applicationLogger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

func (l *applicationLogger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

func (l *applicationLogger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}

func (l *applicationLogger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

func (l *applicationLogger) Debug(msg string) { l.sugar.Debug(msg) }
func (l *applicationLogger) Info(msg string)  { l.sugar.Info(msg) }
func (l *applicationLogger) Warn(msg string)  { l.sugar.Warn(msg) }
func (l *applicationLogger) Error(msg string) { l.sugar.Error(msg) }

func (l *applicationLogger) Benchmark(name string, elapsed time.Duration) {
	l.sugar.Infow("benchmark", "stage", name, "elapsed_ms", elapsed.Milliseconds())
}

func (l *applicationLogger) Sync() error {
	return l.sugar.Sync()
}
