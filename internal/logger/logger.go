// Package logger builds the zap loggers used across the service.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iliyamo/caregiver-booking/internal/config"
)

// IsProduction reports whether env selects the JSON production encoder.
func IsProduction(env string) bool {
	return env == "prod" || env == "production"
}

// New returns the application logger.  Production uses zap's JSON config at
// the configured level; any other environment uses the colored development
// console.  When LOG_FILE is set the same entries are also written, as
// JSON, to a lumberjack-rotated file.
func New(env string, c config.Log) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("logger: level %q: %w", c.Level, err)
	}

	var cfg zap.Config
	if IsProduction(env) {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = level

	var opts []zap.Option
	if c.File != "" {
		w, err := rotating(c.File, c)
		if err != nil {
			return nil, err
		}
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		fileCore := zapcore.NewCore(enc, w, level)
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}
	return cfg.Build(opts...)
}

// NewFile returns a JSON logger that writes only to a rotated file.  The
// status-event consumer uses it for the booking event log.
func NewFile(path string, c config.Log) (*zap.Logger, error) {
	w, err := rotating(path, c)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(enc, w, zap.InfoLevel)), nil
}

func rotating(path string, c config.Log) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logger: mkdir %s: %w", filepath.Dir(path), err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   true,
	}), nil
}
