// Package logging provides the zap core used for publishing log entries.
package logging

import (
	"context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

// noPublishKey is the field key that marks entries that must not be published.
const noPublishKey = "no_publish"

// publishBufferSize is the capacity of the channel returned by
// NewNoPublishOmitCore. Entries are dropped when it is full.
const publishBufferSize = 256

// LogEntry is a log entry that is meant to be published.
type LogEntry struct {
	// Time is the timestamp the entry was created.
	Time time.Time
	// Message is the log message.
	Message string
	// Level is the log level.
	Level zapcore.Level
	// LoggerName is the name of the logger that created the entry.
	LoggerName string
	// Fields holds all fields of the entry including the ones added with
	// zap.Logger.With.
	Fields map[string]interface{}
}

// NoPublish returns a zap.Field that omits the entry from publishing. Use it
// for loggers whose output is published itself, like the MQTT transport.
func NoPublish() zap.Field {
	return zap.Bool(noPublishKey, true)
}

// publishCore is a zapcore.Core that forwards entries to a channel.
type publishCore struct {
	zapcore.LevelEnabler
	ctx     context.Context
	fields  []zapcore.Field
	publish chan<- LogEntry
}

// NewNoPublishOmitCore creates a zapcore.Core that forwards all enabled entries
// to the returned channel unless they carry the NoPublish field. Writing never
// blocks. If the channel is full, entries are dropped. The channel is not
// closed.
func NewNoPublishOmitCore(ctx context.Context, enabler zapcore.LevelEnabler) (zapcore.Core, <-chan LogEntry) {
	publish := make(chan LogEntry, publishBufferSize)
	return &publishCore{
		LevelEnabler: enabler,
		ctx:          ctx,
		fields:       make([]zapcore.Field, 0),
		publish:      publish,
	}, publish
}

func (c *publishCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &publishCore{
		LevelEnabler: c.LevelEnabler,
		ctx:          c.ctx,
		fields:       merged,
		publish:      c.publish,
	}
}

func (c *publishCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *publishCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(enc)
	}
	for _, field := range fields {
		field.AddTo(enc)
	}
	if omit, ok := enc.Fields[noPublishKey].(bool); ok && omit {
		return nil
	}
	select {
	case <-c.ctx.Done():
	case c.publish <- LogEntry{
		Time:       entry.Time,
		Message:    entry.Message,
		Level:      entry.Level,
		LoggerName: entry.LoggerName,
		Fields:     enc.Fields,
	}:
	default:
	}
	return nil
}

func (c *publishCore) Sync() error {
	return nil
}
