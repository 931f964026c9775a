// Package logger holds the process-wide zap logger. The daemon logs JSON to
// stdout; setting PARTYSYNC_LOG_FORMAT=console switches to the plain-text
// encoder, which the interactive client prefers.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base  *zap.Logger
	level zap.AtomicLevel
)

func init() {
	level = zap.NewAtomicLevelAt(parseLevel(os.Getenv("PARTYSYNC_LOG_LEVEL")))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(os.Getenv("PARTYSYNC_LOG_FORMAT"), "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	base = zap.New(core, zap.AddCaller())
}

// L returns the root logger. Components derive their own with Named.
func L() *zap.Logger { return base }

// SetLevel adjusts the global level at runtime.
func SetLevel(s string) { level.SetLevel(parseLevel(s)) }

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
