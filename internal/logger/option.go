package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// leveledCore overrides the level decision of the core it wraps.
type leveledCore struct {
	zapcore.Core

	// level replaces the wrapped core's own threshold.
	level zapcore.Level
}

// Enabled reports whether the entry level passes the override threshold.
func (c *leveledCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check registers the core for entries the override threshold lets through.
//
//nolint:gocritic // zapcore passes entries by value.
func (c *leveledCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}

	return checked
}

// With keeps the override in place when fields are attached.
//
//nolint:ireturn // zapcore.Core is the interface zap composes on.
func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{c.Core.With(fields), c.level}
}

// WithLevel makes an existing logger log at the given level, whatever level
// its core was built with.
//
//nolint:ireturn // zap.Option is the interface zap composes on.
func WithLevel(l zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &leveledCore{core, l}
	})
}
