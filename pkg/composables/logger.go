package composables

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/effort/pkg/constants"
	"github.com/iota-uz/effort/pkg/logging"
)

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger never returns nil; without a logger in ctx it hands out a discarding one.
func UseLogger(ctx context.Context) *logrus.Entry {
	switch typed := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		return typed
	case *logrus.Logger:
		return logrus.NewEntry(typed)
	default:
		return logrus.NewEntry(logging.NopLogger())
	}
}
