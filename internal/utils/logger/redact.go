// internal/utils/logger/redact.go
package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// redactCore заменяет секреты (приватные ключи) в сообщениях и строковых полях
type redactCore struct {
	zapcore.Core
	secrets []string
}

func newRedactCore(core zapcore.Core, secrets []string) zapcore.Core {
	var keep []string
	for _, s := range secrets {
		if strings.TrimSpace(s) != "" {
			keep = append(keep, s)
		}
	}
	if len(keep) == 0 {
		return core
	}
	return &redactCore{Core: core, secrets: keep}
}

func (c *redactCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactCore{Core: c.Core.With(c.scrubFields(fields)), secrets: c.secrets}
}

// Check регистрирует именно обертку, иначе Write обойдет фильтр
func (c *redactCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *redactCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = c.scrub(entry.Message)
	return c.Core.Write(entry, c.scrubFields(fields))
}

func (c *redactCore) scrubFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = c.scrub(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				if msg := c.scrub(err.Error()); msg != err.Error() {
					f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: msg}
				}
			}
		}
		out[i] = f
	}
	return out
}

func (c *redactCore) scrub(s string) string {
	for _, secret := range c.secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, redacted)
		}
	}
	return s
}
