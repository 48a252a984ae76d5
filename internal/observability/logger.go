// Package observability builds the process logger.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/monitor-car/mcc/internal/config"
)

// SetupLogger builds a zap.Logger from c, installs it as the global logger
// and redirects the stdlib log package. The caller should defer Sync.
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
	core, err := NewCore(c, nil)
	if err != nil {
		return nil, err
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

// NewCore returns the tee of all configured outputs. extra, when non-nil,
// is added as one more sink; tests use it to capture output.
func NewCore(c config.LogConfig, extra io.Writer) (zapcore.Core, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	for _, out := range c.Outputs {
		switch strings.ToLower(out) {
		case "stdout":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
		case "stderr":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
		case "file":
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(RotatingWriter(c.File)), level))
		default:
			return nil, fmt.Errorf("unknown log output %q", out)
		}
	}
	if extra != nil {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(extra), level))
	}
	return zapcore.NewTee(cores...), nil
}

// RotatingWriter returns a size-rotated file writer.
func RotatingWriter(f config.FileLogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    atLeast(f.MaxSizeMB, 1),
		MaxBackups: atLeast(f.MaxBackups, 1),
		MaxAge:     atLeast(f.MaxAgeDays, 1),
		Compress:   f.Compress,
	}
}

// ParseLevel maps a configured level name to a zap AtomicLevel.
func ParseLevel(name string) (zap.AtomicLevel, error) {
	switch strings.ToLower(name) {
	case "warning":
		name = "warn"
	case "":
		name = "info"
	}
	level, err := zap.ParseAtomicLevel(strings.ToLower(name))
	if err != nil {
		return zap.NewAtomicLevel(), fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
