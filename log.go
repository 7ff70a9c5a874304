package kvs

import "go.uber.org/zap"

// newNopLogger is the default logger when a caller doesn't supply one via
// WithLogger: structured logging is wired through the whole engine, but
// silent unless asked for (matches the ambient-logging idiom of the wider
// pack's Bitcask-style engines, e.g. iamNilotpal/ignite).
func newNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
