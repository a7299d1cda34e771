package wavecache

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimitedLogger emits at most one entry per interval and drops the rest.
type rateLimitedLogger struct {
	log *zap.Logger
	st  rate.Sometimes
}

func newRateLimitedLogger(log *zap.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: log, st: rate.Sometimes{First: 1, Interval: interval}}
}

func (l *rateLimitedLogger) Warn(msg string, fields ...zap.Field) {
	l.st.Do(func() { l.log.Warn(msg, fields...) })
}
