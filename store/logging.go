package store

import "go.uber.org/zap"

// newDefaultLogger builds a production zap logger, used when a Store is
// constructed without an explicit logger.
func newDefaultLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on sink construction; fall back
		// to a logger that never errors.
		return zap.NewNop()
	}
	return logger
}
