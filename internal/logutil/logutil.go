package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// KeyRange groups a [start, end) key interval under a single "range"
// object field. Zero reflection, same speed as inline fields.
func KeyRange(start, end int64) zap.Field {
	return zap.Object("range", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddInt64("start", start)
		enc.AddInt64("end", end)
		enc.AddInt64("size", end-start)
		return nil
	}))
}
