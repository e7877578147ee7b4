package pipeline

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingLoggerOptions configures NewRotatingLogger.
type RotatingLoggerOptions struct {
	// Path is the log file written to; required.
	Path string
	// MaxSizeMB rotates the file once it exceeds this size; defaults to 100.
	MaxSizeMB int
	// MaxBackups caps how many rotated files are kept; defaults to 5.
	MaxBackups int
	// MaxAgeDays caps how long a rotated file is kept; defaults to 28.
	MaxAgeDays int
}

// NewRotatingLogger builds a zap.Logger whose core writes JSON log lines
// through a lumberjack.Logger, so a long-running pipeline process (the
// extract/normalize/load loop driven by cmd/ingestpipe's run subcommand)
// never grows an unbounded log file.
func NewRotatingLogger(opts RotatingLoggerOptions) *zap.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 28
	}

	sink := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(sink), zap.InfoLevel)
	return zap.New(core)
}
