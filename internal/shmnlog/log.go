// Copyright (c) 2018, Postgres Professional

// Package shmnlog wraps zap for the monitor and keeper daemons. Grounded on
// the teacher's internal/hplog package.
package shmnlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

func GetLogger() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	config := zap.Config{
		Level: level,
		// don't panic on DPanic
		Development: false,
		// print file:line always, useful when a keeper/monitor process logs
		// to a shared journal
		DisableCaller: false,
		// the FSM loop never wants a stacktrace spliced into the log line
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     zap.NewDevelopmentEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}

	zlogger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return &Logger{SugaredLogger: zlogger.Sugar(), level: level}
}

func (l *Logger) SetLevel(level string) {
	switch level {
	case "error":
		l.level.SetLevel(zap.ErrorLevel)
	case "warn":
		l.level.SetLevel(zap.WarnLevel)
	case "info":
		l.level.SetLevel(zap.InfoLevel)
	case "debug":
		l.level.SetLevel(zap.DebugLevel)
	default:
		l.Fatalf("invalid log level: %v", level)
	}
}

func GetLoggerWithLevel(level string) *Logger {
	l := GetLogger()
	l.SetLevel(level)
	return l
}
