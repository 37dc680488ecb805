// Package logging provides the structured logger used across sdstudio.
//
// Output is teed to the console and to a rotating JSON log file. Every field
// and message passes through the credential filter before it is encoded, so a
// Hugging Face token that leaks into an error string never reaches disk.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with credential redaction.
//
// This organism composes:
//   - RotatingWriter molecule (log file rotation via lumberjack)
//   - Tee molecule (console + file cores)
//   - credential filter atoms
//
// Example:
//
//	logger, err := NewLogger(true, "sdstudio.log")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("pipeline built", zap.String("style", "TextToImage"))
type Logger struct {
	zap   *zap.Logger
	sugar *zap.SugaredLogger
	dev   bool
	path  string
}

// NewLogger creates a Logger for the given mode.
//
// Development mode logs at debug level with a coloured console encoder.
// Production mode logs at info level (or SDSTUDIO_LOG_LEVEL) as JSON on both
// outputs. The log file rotates with DefaultRotation.
func NewLogger(dev bool, logFilePath string) (*Logger, error) {
	return NewLoggerWithRotation(dev, logFilePath, DefaultRotation())
}

// NewLoggerWithRotation is NewLogger with explicit rotation settings.
func NewLoggerWithRotation(dev bool, logFilePath string, rotation Rotation) (*Logger, error) {
	if logFilePath == "" {
		return nil, fmt.Errorf("logging: empty log file path")
	}

	level := zapcore.InfoLevel
	if dev {
		level = zapcore.DebugLevel
	}
	level = LevelFromEnv("SDSTUDIO_LOG_LEVEL", level)

	file := NewRotatingWriter(logFilePath, rotation)
	core := NewTee(level, zapcore.Lock(os.Stdout), file, dev)

	return wrap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), dev, logFilePath), nil
}

// NewNop returns a Logger that discards everything. Tests use it.
func NewNop() *Logger {
	return wrap(zap.NewNop(), false, "")
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		return NewNop()
	}
	return wrap(z, false, "")
}

func wrap(z *zap.Logger, dev bool, path string) *Logger {
	return &Logger{zap: z, sugar: z.Sugar(), dev: dev, path: path}
}

// Sync flushes buffered entries. Call before exit.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(RedactSecrets(msg), redactFields(fields)...)
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(RedactSecrets(msg), redactFields(fields)...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(RedactSecrets(msg), redactFields(fields)...)
}

func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(RedactSecrets(msg), redactFields(fields)...)
}

// Infow logs with loosely typed key/value pairs.
//
// Example:
//
//	logger.Infow("run finished", "style", "Refined", "seed", 123)
func (l *Logger) Infow(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(RedactSecrets(msg), redactPairs(keysAndValues)...)
}

func (l *Logger) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(RedactSecrets(msg), redactPairs(keysAndValues)...)
}

func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(RedactSecrets(msg), redactPairs(keysAndValues)...)
}

func (l *Logger) Debugf(template string, args ...interface{}) {
	l.sugar.Debug(RedactSecrets(fmt.Sprintf(template, args...)))
}

func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar.Info(RedactSecrets(fmt.Sprintf(template, args...)))
}

func (l *Logger) Warnf(template string, args ...interface{}) {
	l.sugar.Warn(RedactSecrets(fmt.Sprintf(template, args...)))
}

func (l *Logger) Errorf(template string, args ...interface{}) {
	l.sugar.Error(RedactSecrets(fmt.Sprintf(template, args...)))
}

// With returns a child logger carrying fields on every entry.
//
// Example:
//
//	runLog := logger.With(zap.String("run_id", id))
func (l *Logger) With(fields ...zap.Field) *Logger {
	return wrap(l.zap.With(redactFields(fields)...), l.dev, l.path)
}

// Named adds a sub-logger name, e.g. "pipeline" or "server".
func (l *Logger) Named(name string) *Logger {
	return wrap(l.zap.Named(name), l.dev, l.path)
}

// Zap exposes the underlying logger for packages that take *zap.Logger.
// The returned logger bypasses redaction; pass it only fields that cannot
// carry credentials.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

func (l *Logger) IsDevelopment() bool { return l.dev }

func (l *Logger) LogFilePath() string { return l.path }

func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = redactField(f)
	}
	return out
}

func redactField(f zap.Field) zap.Field {
	if IsCredentialKey(f.Key) {
		return zap.String(f.Key, RedactedPlaceholder)
	}
	switch f.Type {
	case zapcore.StringType:
		if r := RedactSecrets(f.String); r != f.String {
			return zap.String(f.Key, r)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			if r := RedactSecrets(err.Error()); r != err.Error() {
				return zap.String(f.Key, r)
			}
		}
	}
	return f
}

// redactPairs filters sugared key/value pairs; even indices are keys.
func redactPairs(kv []interface{}) []interface{} {
	if len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if IsCredentialKey(key) {
			out[i+1] = RedactedPlaceholder
			continue
		}
		switch v := out[i+1].(type) {
		case string:
			out[i+1] = RedactSecrets(v)
		case error:
			out[i+1] = RedactSecrets(v.Error())
		}
	}
	return out
}
