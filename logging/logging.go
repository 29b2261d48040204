// Package logging builds the zap logger shared by every asinscan component.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pevans/asinscan/config"
)

// Rotation settings for the optional log file.
const (
	maxFileSizeMB  = 50
	maxFileBackups = 5
	maxFileAgeDays = 28
)

var logLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// New creates a logger from cfg. Debug mode forces the debug level and the
// development encoder. When cfg.File is set, output is mirrored to a
// rotating file.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if cfg.Debug {
		encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
		}
		encoderConfig.ConsoleSeparator = " | "
	}

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	level := levelFor(cfg)

	// stdout is reserved for command output
	sink := zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxFileBackups,
			MaxAge:     maxFileAgeDays,
		}))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.Debug {
		opts = append(opts, zap.Development())
	}

	return zap.New(zapcore.NewCore(encoder, sink, level), opts...), nil
}

// levelFor resolves the effective level. Unknown names fall back to info.
func levelFor(cfg config.LogConfig) zapcore.Level {
	if cfg.Debug {
		return zapcore.DebugLevel
	}
	lvl, ok := logLevels[strings.ToLower(cfg.Level)]
	if !ok {
		return zapcore.InfoLevel
	}
	return lvl
}
