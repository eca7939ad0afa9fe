package cache

import (
	"encoding/json"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// NewConsoleLogger writes human readable lines to stdout, tagged with
// prefix, for examples and local debugging.
func NewConsoleLogger(prefix string) Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		NameKey:          "name",
		EncodeLevel:      bracketLevel,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(stdout{}), zapcore.DebugLevel)
	return NewZapLogger(zap.New(core).Named(prefix))
}

func bracketLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// stdout resolves os.Stdout per write so redirection after construction is
// honoured.
type stdout struct{}

func (stdout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

// ZapLogger adapts a zap logger. Args are key/value pairs.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l yields a no-op zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{sugar: l.Sugar()}
}

// Debug logs a debug message.
func (zl *ZapLogger) Debug(msg string, args ...any) { zl.sugar.Debugw(msg, args...) }

// Info logs an info message.
func (zl *ZapLogger) Info(msg string, args ...any) { zl.sugar.Infow(msg, args...) }

// Warn logs a warning message.
func (zl *ZapLogger) Warn(msg string, args ...any) { zl.sugar.Warnw(msg, args...) }

// Error logs an error message.
func (zl *ZapLogger) Error(msg string, args ...any) { zl.sugar.Errorw(msg, args...) }

// JSONMarshaller encodes values handed to Set before they reach the store.
type JSONMarshaller struct{}

// Marshal serializes a value to JSON.
func (jm *JSONMarshaller) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (jm *JSONMarshaller) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return &JSONMarshaller{}
}
