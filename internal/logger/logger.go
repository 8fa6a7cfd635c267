// Package logger строит zap.Logger сервиса.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvDevelopment включает пресет для локальной разработки.
const EnvDevelopment = "development"

// Config содержит настройки для логгера.
type Config struct {
	Level      string // debug, info, warn, error
	Encoding   string // json или console; пусто - по окружению
	OutputPath string // пусто - stdout
	// Env: в development по умолчанию console, caller и стектрейсы на Error
	Env     string
	Service string // поле service в каждой записи
	Version string
}

// New создает zap.Logger по конфигурации.
func New(cfg Config) (*zap.Logger, error) {
	dev := strings.EqualFold(cfg.Env, EnvDevelopment)

	level := zap.NewAtomicLevelAt(defaultLevel(dev))
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			// Логгера еще нет, пишем в stderr
			fmt.Fprintf(os.Stderr, "Invalid log level '%s', using '%s'. Error: %v\n", cfg.Level, defaultLevel(dev), err)
			level.SetLevel(defaultLevel(dev))
		}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       dev,
		DisableCaller:     !dev,
		DisableStacktrace: !dev,
		Encoding:          encodingFor(cfg.Encoding, dev),
		EncoderConfig:     encoderConfig(dev),
		OutputPaths:       []string{outputOrStdout(cfg.OutputPath)},
		ErrorOutputPaths:  []string{"stderr"},
	}

	var opts []zap.Option
	if dev {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	var fields []zap.Field
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}
	if cfg.Version != "" {
		fields = append(fields, zap.String("version", cfg.Version))
	}
	return logger.With(fields...), nil
}

func defaultLevel(dev bool) zapcore.Level {
	if dev {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func encodingFor(encoding string, dev bool) string {
	switch e := strings.ToLower(encoding); e {
	case "json", "console":
		return e
	case "":
		if dev {
			return "console"
		}
	}
	return "json"
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if dev {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

func outputOrStdout(path string) string {
	if path == "" {
		return "stdout"
	}
	return path
}
