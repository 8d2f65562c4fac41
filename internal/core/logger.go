package core

import "go.uber.org/zap"

// Logger is the leveled event sink used by the aggregation components.
// Both *zap.Logger and the gofulmen logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// LoggerOrNop returns l, or a no-op logger when l is nil.
func LoggerOrNop(l Logger) Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
