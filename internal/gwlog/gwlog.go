// Package gwlog configures the process-wide structured logger: one
// zap.Logger tagged with the gateway's instance_id, with a verbosity knob
// equivalent to the original's -v/-q counters (spec §2.2 of SPEC_FULL.md).
package gwlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for instanceID at the given verbosity. Verbosity
// 0 and 1 log at Info; 2 or more lowers the minimum level to Debug;
// negative verbosity raises it (-1 is Warn, lower is Error). json selects
// structured JSON encoding (suited to a fluentd collector) over the
// console encoder.
func New(instanceID string, verbosity int, json bool) (*zap.Logger, error) {
	level := levelFor(verbosity)

	cfg := zap.NewProductionConfig()
	if !json {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("instance_id", instanceID)), nil
}

func levelFor(verbosity int) zapcore.Level {
	switch {
	case verbosity >= 2:
		return zapcore.DebugLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	case verbosity == 0:
		return zapcore.InfoLevel
	case verbosity == -1:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
