package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the agent logs.
type Options struct {
	FilePath string
	Level    string
	IsProd   bool
}

// New builds a logger that writes rotated JSON to FilePath and mirrors
// every entry to stderr.
func New(opts Options) *zap.Logger {
	rotator := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    10, // Megabytes
		MaxBackups: 5,
		MaxAge:     30, // Days
		Compress:   true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
	level := ParseLevel(opts.Level)

	fileCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level)

	var consoleEncoder zapcore.Encoder
	if opts.IsProd {
		consoleEncoder = jsonEncoder
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level)

	return zap.New(zapcore.NewTee(fileCore, consoleCore), zap.AddCaller())
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zap.InfoLevel
	}
	return lvl
}
