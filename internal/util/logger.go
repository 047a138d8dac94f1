package util

import (
	"os"

	"github.com/berfenger/antra2mqtt/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger logs JSON to stderr and, when a log file is configured, to a
// rotated file as well. The returned level can be changed at runtime.
func NewLogger(cfg config.LogConfig, level zapcore.Level) (*zap.Logger, zap.AtomicLevel) {
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLevel),
	}
	if cfg.File != "" {
		writeSyncer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder.Clone(), writeSyncer, atomicLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), atomicLevel
}
