package log

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogFilePath = "./logs/chat_sync.log"
	defaultMaxSizeMB   = 20
	defaultMaxBackups  = 10
	envLogFilePath     = "LOG_FILE_PATH"
	envLogMaxSizeMB    = "LOG_MAX_SIZE_MB"
	envLogFormat       = "LOG_FORMAT"
	envLogLevel        = "LOG_LEVEL"
	logFormatText      = "text"
	logFormatJSON      = "json"
)

type Options struct {
	FilePath  string
	MaxSizeMB int
	Format    string
	Level     string
}

var (
	mu     sync.RWMutex
	global = newLogger(optionsFromEnv())
)

func optionsFromEnv() Options {
	opts := Options{
		FilePath:  strings.TrimSpace(os.Getenv(envLogFilePath)),
		MaxSizeMB: defaultMaxSizeMB,
		Format:    strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat))),
		Level:     strings.ToLower(strings.TrimSpace(os.Getenv(envLogLevel))),
	}
	if opts.FilePath == "" {
		opts.FilePath = defaultLogFilePath
	}
	if raw := strings.TrimSpace(os.Getenv(envLogMaxSizeMB)); raw != "" {
		if sizeMB, err := strconv.Atoi(raw); err == nil && sizeMB > 0 {
			opts.MaxSizeMB = sizeMB
		}
	}
	return opts
}

// Configure replaces the process logger. A FilePath of "-" disables the file sink.
func Configure(opts Options) {
	next := newLogger(opts)
	mu.Lock()
	prev := global
	global = next
	mu.Unlock()
	_ = prev.Sync()
}

func Sync() error {
	return current().Sync()
}

func newLogger(opts Options) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var fileEncoder zapcore.Encoder
	if opts.Format == logFormatJSON {
		fileEncoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		fileEncoder = zapcore.NewConsoleEncoder(encCfg)
	}
	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	level := parseLevel(opts.Level)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
	}
	if opts.FilePath != "" && opts.FilePath != "-" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = defaultMaxSizeMB
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxSize,
			MaxBackups: defaultMaxBackups,
			LocalTime:  true,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotating), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func parseLevel(raw string) zapcore.Level {
	switch raw {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

func Debugf(format string, args ...any) {
	current().Debugf(format, args...)
}

func Infof(format string, args ...any) {
	current().Infof(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Errorf(format, args...)
}

// Exceptionf logs at error level with a stack trace attached.
func Exceptionf(format string, args ...any) {
	current().WithOptions(zap.AddStacktrace(zapcore.ErrorLevel)).Errorf(format, args...)
}
