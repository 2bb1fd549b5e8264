// Package logging builds the zap loggers used by the server and CLI.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger tagged with service. Development mode logs human
// readable, colored output at debug level; otherwise JSON at info.
func New(service string, development bool) (*zap.Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	config.InitialFields = map[string]interface{}{
		"service": service,
	}

	return config.Build()
}

// WithLevel is New with an explicit minimum level such as "warn".
func WithLevel(service string, development bool, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger, err := New(service, development)
	if err != nil {
		return nil, err
	}
	return logger.WithOptions(zap.IncreaseLevel(lvl)), nil
}
