package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewTee builds a core writing to console and file at the same level.
// The file always receives JSON. The console receives coloured text in
// development mode and JSON otherwise.
//
// Example:
//
//	var buf bytes.Buffer
//	core := NewTee(zapcore.DebugLevel, zapcore.AddSync(os.Stdout), zapcore.AddSync(&buf), true)
func NewTee(level zapcore.Level, console, file zapcore.WriteSyncer, dev bool) zapcore.Core {
	consoleEnc := zapcore.NewJSONEncoder(JSONEncoderConfig())
	if dev {
		consoleEnc = zapcore.NewConsoleEncoder(ConsoleEncoderConfig())
	}
	return zapcore.NewTee(
		zapcore.NewCore(consoleEnc, console, level),
		zapcore.NewCore(zapcore.NewJSONEncoder(JSONEncoderConfig()), file, level),
	)
}
