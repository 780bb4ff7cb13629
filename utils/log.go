package utils

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type logKeyType struct{}

func LogContext(ctx context.Context, fields ...zap.Field) context.Context {
	old := GetLogContextFields(ctx)
	fields = append(append([]zap.Field(nil), old...), fields...)
	return context.WithValue(ctx, logKeyType{}, fields)
}

func GetLogContextFields(ctx context.Context) []zap.Field {
	fields, ok := ctx.Value(logKeyType{}).([]zap.Field)
	if !ok {
		return nil
	}
	return fields
}

func GetLogFromContext(ctx context.Context, parentLog *zap.Logger) *zap.Logger {
	return parentLog.With(GetLogContextFields(ctx)...)
}

func LogContextWith(ctx context.Context, parentLog *zap.Logger, fields ...zap.Field) (context.Context, *zap.Logger) {
	ctx = LogContext(ctx, fields...)
	parentLog = parentLog.With(fields...)
	return ctx, parentLog
}

// Secret logs a credential with everything but the first and last two
// characters masked.
func Secret(key, value string) zap.Field {
	runes := []rune(value)
	if len(runes) <= 4 {
		return zap.String(key, strings.Repeat("*", len(runes)))
	}
	return zap.String(key, string(runes[:2])+strings.Repeat("*", len(runes)-4)+string(runes[len(runes)-2:]))
}
