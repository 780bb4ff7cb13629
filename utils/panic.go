package utils

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// PanicRecovery must be deferred directly.
func PanicRecovery(log *zap.Logger) {
	if r := recover(); r != nil {
		log.With(zap.Any("panic", r), zap.String("stack", string(debug.Stack()))).Error("recovered panic")
	}
}
