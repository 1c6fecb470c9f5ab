// Package logger configures the structured, leveled logger used throughout the
// indexer. It mirrors the teacher's keyed-argument log.Info("msg", "k", v, ...)
// idiom (eth/stagedsync, cmd/headers/download) via zap's SugaredLogger, and
// supports rotating to a file with lumberjack when one is configured — matching
// the out-of-scope "logging configuration" collaborator named in spec.md §1
// while still carrying a real ambient logging stack (SPEC_FULL.md §2.1).
package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config mirrors the narrow surface of the out-of-scope -l/--logging-config file
// (spec.md §6): verbosity plus an optional rotating file sink.
type Config struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	FilePath string `yaml:"file"`     // empty: stderr only
	MaxSizeMB int   `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
}

// New builds a *zap.SugaredLogger honoring Config, falling back to info level
// with no file sink when cfg is nil.
func New(cfg *Config) (*zap.SugaredLogger, error) {
	if cfg == nil {
		cfg = &Config{Level: "info"}
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	var sinks []zapcore.WriteSyncer
	sinks = append(sinks, zapcore.AddSync(os.Stderr))
	if cfg.FilePath != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 100),
			MaxBackups: defaultInt(cfg.MaxBackups, 3),
			MaxAge:     28,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

func defaultInt(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// WithCallback returns a child logger scoped to one handler/hook invocation,
// matching dipdup-py's `FormattedLogger(f'dipdup.handlers.{name}')` naming.
func WithCallback(base *zap.SugaredLogger, kind, name string) *zap.SugaredLogger {
	return base.Named(fmt.Sprintf("dipdup.%ss.%s", kind, name))
}

// Timed logs at info when the enclosing callback ran longer than one second,
// debug otherwise (spec.md §4.4 Observability).
func Timed(base *zap.SugaredLogger, kind, name string, start time.Time) {
	elapsed := time.Since(start)
	msg := "callback executed"
	if elapsed > time.Second {
		base.Infow(msg, "kind", kind, "name", name, "elapsed", elapsed)
	} else {
		base.Debugw(msg, "kind", kind, "name", name, "elapsed", elapsed)
	}
}
