// Package logger holds the process-wide zap logger.
package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Rotation limits of the JSON log file.
const (
	fileMaxSizeMB  = 50
	fileMaxBackups = 5
	fileMaxAgeDays = 30
)

var (
	log  *zap.Logger
	once sync.Once
)

// Init initializes the global logger with console output only
func Init(debug bool) {
	once.Do(func() {
		log = New(debug, "")
	})
}

// InitWithFile initializes the global logger with both console and a
// rotated JSON file.
func InitWithFile(debug bool, logFile string) {
	once.Do(func() {
		log = New(debug, logFile)
	})
}

// New builds a logger writing human-readable entries to stderr and, when
// logFile is set, JSON entries to a lumberjack-rotated file. stdout is left
// to command output (query results, info).
func New(debug bool, logFile string) *zap.Logger {
	level := zapcore.InfoLevel
	console := zap.NewProductionEncoderConfig()
	if debug {
		level = zapcore.DebugLevel
		console = zap.NewDevelopmentEncoderConfig()
	}
	console.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(console), zapcore.Lock(os.Stderr), level),
	}
	if logFile != "" {
		cores = append(cores, fileCore(logFile, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
}

func fileCore(path string, level zapcore.Level) zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: fileMaxBackups,
			MaxAge:     fileMaxAgeDays,
		}),
		level,
	)
}

// ForMap returns l annotated with the map file and id.
func ForMap(l *zap.Logger, path string, mapID uint32) *zap.Logger {
	return l.With(zap.String("map", path), zap.Uint32("map_id", mapID))
}

// SetForTest replaces the global logger, typically with a zaptest or
// observer logger. Later Init calls are no-ops.
func SetForTest(l *zap.Logger) {
	once.Do(func() {})
	log = l
}

// Get returns the global logger
func Get() *zap.Logger {
	if log == nil {
		Init(false)
	}
	return log
}

// Sync flushes any buffered log entries
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
