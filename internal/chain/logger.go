package chain

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

var _ retryablehttp.LeveledLogger = zapLeveledLogger{}

// zapLeveledLogger routes retryablehttp logs to the global zap logger.
type zapLeveledLogger struct{}

func (zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Errorw(msg, keysAndValues...)
}

func (zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Infow(msg, keysAndValues...)
}

func (zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Debugw(msg, keysAndValues...)
}

func (zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	zap.L().Sugar().Warnw(msg, keysAndValues...)
}
