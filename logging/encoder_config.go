package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Field keys shared by the JSON and console encoders.
const (
	KeyTime    = "ts"
	KeyLevel   = "level"
	KeyLogger  = "logger"
	KeyCaller  = "caller"
	KeyMessage = "msg"
	KeyStack   = "stacktrace"
)

// JSONEncoderConfig is used for the log file and for production console output.
func JSONEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        KeyTime,
		LevelKey:       KeyLevel,
		NameKey:        KeyLogger,
		CallerKey:      KeyCaller,
		MessageKey:     KeyMessage,
		StacktraceKey:  KeyStack,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// ConsoleEncoderConfig is the development console format: coloured levels and
// clock-only timestamps.
func ConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := JSONEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// LevelFromEnv reads a level name from env, falling back to def when the
// variable is unset or unrecognised.
func LevelFromEnv(env string, def zapcore.Level) zapcore.Level {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return def
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
		return def
	}
	return lvl
}
