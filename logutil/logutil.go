// Package logutil builds the zap loggers used by the training and demo
// commands: console output split between stdout and stderr by level, with
// optional redirection into a log file.
package logutil

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a logger writing info and below to stdout and errors to
// stderr. When logFile is non-empty everything is appended there instead,
// so long runs on shared machines keep their own train.log.
func New(logFile string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "opening log file %s", logFile)
		}
		core := zapcore.NewCore(encoder, zapcore.Lock(f), zapcore.InfoLevel)
		return zap.New(core).Sugar(), nil
	}

	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), isErrorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), isInfoLevel),
	)
	return zap.New(core).Sugar(), nil
}
