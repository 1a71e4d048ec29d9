package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// LogLevelEnvVar controls logging verbosity when no level is given
// explicitly. When unset or empty, logging is silent.
// Valid values: "debug", "info", "warn", "error".
const LogLevelEnvVar = "LOXONE_LOG_LEVEL"

// maxDumpBytes caps hex and text dumps of protocol frames.
const maxDumpBytes = 256

// Initialize creates the global logger with the given level. An empty level
// falls back to LOXONE_LOG_LEVEL and then to a no-op logger.
func Initialize(level string) error {
	return InitializeWithFormat(level, "")
}

// InitializeWithFormat is Initialize with an explicit encoder, "console" or
// "json". Empty means console.
func InitializeWithFormat(level, format string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		SetLogger(zap.NewNop())
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if strings.EqualFold(format, "json") {
		config.Encoding = "json"
		config.EncoderConfig = zap.NewProductionEncoderConfig()
	} else {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(l)
	return nil
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLogger replaces the global logger. Nil restores the no-op default.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// GetLogger returns the global logger, a no-op logger if none was set.
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Miniserver is the field every Miniserver-scoped log line carries.
func Miniserver(debugID string) zap.Field {
	return zap.String("miniserver", debugID)
}

// LogWebSocketMessage logs a frame sent to or received from a Miniserver.
// Nothing is formatted unless debug logging is on.
func LogWebSocketMessage(debugID string, direction string, messageType int, data []byte) {
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	fields := []zap.Field{
		Miniserver(debugID),
		zap.String("direction", direction),
		zap.String("message_type", wsMessageTypeName(messageType)),
		zap.Int("length", len(data)),
	}
	switch messageType {
	case 1:
		fields = append(fields, zap.String("content", truncate(data)))
	case 2:
		fields = append(fields, zap.String("hex_dump", hexDump(data)))
	}
	Debug("WebSocket message", fields...)
}

func wsMessageTypeName(msgType int) string {
	switch msgType {
	case 1:
		return "text"
	case 2:
		return "binary"
	case 8:
		return "close"
	case 9:
		return "ping"
	case 10:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", msgType)
	}
}

func truncate(data []byte) string {
	if len(data) > maxDumpBytes {
		return string(data[:maxDumpBytes]) + "..."
	}
	return string(data)
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > maxDumpBytes {
		return hex.EncodeToString(data[:maxDumpBytes]) + "..."
	}
	return hex.EncodeToString(data)
}

// Sync flushes any buffered log entries
func Sync() {
	_ = GetLogger().Sync()
}
