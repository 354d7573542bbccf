package logger

import "context"

// Entry collects measurement fields for a single summary record, so a
// run's totals (duration_ms, count, size) land on one line instead of
// being scattered across messages.
type Entry struct {
	logger *Logger
	fields Fields
}

// With starts an Entry on the default logger.
// Example: logger.With(logger.Fields{"processed": n}).Info(ctx, "ingest completed")
func With(fields Fields) *Entry {
	return &Entry{
		logger: getDefaultLogger(),
		fields: fields,
	}
}

// With returns a copy of the entry with extra fields merged in. Later
// values win on key collisions.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{
		logger: e.logger,
		fields: merged,
	}
}

// WithField returns a copy of the entry with one field added.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// WithDuration records elapsed time in milliseconds.
func (e *Entry) WithDuration(ms int64) *Entry {
	return e.WithField(FieldDurationMs, ms)
}

// WithCount records how many items the operation touched.
func (e *Entry) WithCount(count int) *Entry {
	return e.WithField(FieldCount, count)
}

// WithSize records a payload size in bytes.
func (e *Entry) WithSize(size int) *Entry {
	return e.WithField(FieldSize, size)
}

// target prefers the context logger, so entries emitted inside a job or
// request carry its job_id and request_id fields.
func (e *Entry) target(ctx context.Context) *Logger {
	if ctx != nil {
		return FromContext(ctx)
	}
	return e.logger
}

// Debug emits the entry at Debug level.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Debugf(format, args...)
}

// Info emits the entry at Info level.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Infof(format, args...)
}

// Warn emits the entry at Warn level.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Warnf(format, args...)
}

// Error emits the entry at Error level.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).WithFields(e.fields).Errorf(format, args...)
}
