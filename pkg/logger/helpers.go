package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs a feed API or asset request outcome
func LogRequest(l Logger, method, url string, statusCode int, elapsed time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": elapsed.Milliseconds(),
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		OrGlobal(l).DebugWithFields("HTTP request completed", fields)
	case statusCode >= 400 && statusCode < 500:
		OrGlobal(l).WarnWithFields("HTTP request client error", fields)
	default:
		OrGlobal(l).ErrorWithFields("HTTP request failed", fields)
	}
}

// LogItem logs the outcome of one feed item
func LogItem(l Logger, namespace, itemID, outcome string, err error) {
	entry := OrGlobal(l).WithFields(map[string]interface{}{
		"namespace": namespace,
		"item_id":   itemID,
		"outcome":   outcome,
	})
	if err != nil {
		entry.WithError(err).Warn("Item failed")
		return
	}
	entry.Debug("Item processed")
}

// LogPage logs a fetched feed page
func LogPage(l Logger, namespace string, page, items int, hasNext bool) {
	OrGlobal(l).InfoWithFields("Fetched feed page", map[string]interface{}{
		"namespace": namespace,
		"page":      page,
		"items":     items,
		"has_next":  hasNext,
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) Debug(string)                                   {}
func (n nopLogger) Info(string)                                    {}
func (n nopLogger) Warn(string)                                    {}
func (n nopLogger) Error(string)                                   {}
func (n nopLogger) Fatal(string)                                   {}
func (n nopLogger) WithField(string, interface{}) Logger           { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger       { return n }
func (n nopLogger) WithError(error) Logger                         { return n }
func (n nopLogger) WithContext(context.Context) Logger             { return n }
func (n nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (n nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (n nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (n nopLogger) ErrorWithFields(string, map[string]interface{}) {}
func (n nopLogger) FatalWithFields(string, map[string]interface{}) {}
func (n nopLogger) GetZerolog() *zerolog.Logger                    { return nil }
