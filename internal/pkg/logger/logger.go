package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/turmony/douBao/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Logger *zap.SugaredLogger
)

// Setup 初始化日志系统
func Setup() error {
	l, err := New(config.GlobalConfig.Log)
	if err != nil {
		return err
	}
	Logger = l

	Info("Logger initialized successfully")
	return nil
}

// New 按配置构建日志实例
func New(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	// 设置日志级别
	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	case "fatal":
		level = zapcore.FatalLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	// 设置日志格式
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "time",
		LevelKey:     "level",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "text":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	// 设置输出方式
	var writer zapcore.WriteSyncer
	switch strings.ToLower(cfg.Output) {
	case "console":
		writer = zapcore.AddSync(os.Stdout)
	case "file":
		fileWriter, err := setupFileWriter(cfg)
		if err != nil {
			return nil, err
		}
		writer = fileWriter
	case "both":
		fileWriter, err := setupFileWriter(cfg)
		if err != nil {
			return nil, err
		}
		writer = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), fileWriter)
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(), nil
}

// setupFileWriter 设置文件输出，按大小滚动
func setupFileWriter(logCfg config.LogConfig) (zapcore.WriteSyncer, error) {
	logDir := filepath.Dir(logCfg.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   logCfg.FilePath,
		MaxSize:    logCfg.MaxSize,
		MaxBackups: logCfg.MaxBackups,
		MaxAge:     logCfg.MaxAge,
		Compress:   logCfg.Compress,
	}), nil
}

// GetLogger 获取日志实例
func GetLogger() *zap.SugaredLogger {
	if Logger == nil {
		// 如果日志未初始化，使用默认配置
		l, _ := New(config.LogConfig{Level: "info", Format: "text", Output: "console"})
		Logger = l
	}
	return Logger
}

// Sync 刷新缓冲
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// 便捷方法
func Debug(args ...interface{}) {
	GetLogger().Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

func Warn(args ...interface{}) {
	GetLogger().Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

func Error(args ...interface{}) {
	GetLogger().Error(args...)
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

func Fatal(args ...interface{}) {
	GetLogger().Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}
