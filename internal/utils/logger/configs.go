package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newDevelopmentLoggerConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

func newTestLoggerConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	return cfg
}

func newStagingLoggerConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	return cfg
}

func newProductionLoggerConfig() zap.Config {
	return zap.NewProductionConfig()
}
