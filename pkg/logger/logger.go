package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telemetry-agent/pkg/config"
	"github.com/telemetry-agent/pkg/goid"
)

type Logger = zap.Logger

var (
	baseLogger    *zap.Logger
	defaultFields = struct {
		Component string
	}{}
	loggerInitOnce    sync.Once
	loggerInitialized bool
	mu                sync.RWMutex
)

const timeLayout = "2006-01-02 15:04:05.000 -07:00"

// InitLogger 初始化全局日志（只生效一次）：控制台 + 按天滚动的 JSON 文件
func InitLogger(cfg *config.ZapLogConfig) (*Logger, error) {
	if cfg == nil {
		return nil, errors.New("log config is nil")
	}
	var err error
	loggerInitOnce.Do(func() {
		level := parseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0o755); err != nil {
			return
		}

		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = 7
		}
		writer, wErr := rotatelogs.New(
			filepath.Join(cfg.Path, "agent-%Y%m%d.log"),
			rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if wErr != nil {
			err = wErr
			return
		}

		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.TimeKey = "timestamp"
		jsonCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
		jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

		stdoutEncoder := zapcore.NewJSONEncoder(jsonCfg)
		if strings.ToLower(cfg.Format) == "console" {
			stdoutEncoder = zapcore.NewConsoleEncoder(consoleEncoderConfig())
		}

		core := zapcore.NewTee(
			zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
			zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(writer), level),
		)

		baseLogger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		loggerInitialized = true
	})
	if err != nil {
		return nil, err
	}
	return baseLogger, nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	case "pan", "panic":
		return zapcore.PanicLevel
	case "fat", "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// consoleEncoderConfig 控制台彩色级别 + 彩色时间 + 两级 caller 路径
func consoleEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.ConsoleSeparator = " "
	enc.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format(timeLayout)))
	}
	enc.EncodeLevel = func(level zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
		var levelStr string
		switch level {
		case zapcore.DebugLevel:
			levelStr = "\033[36mDEBUG\033[0m"
		case zapcore.InfoLevel:
			levelStr = "\033[32mINFO \033[0m"
		case zapcore.WarnLevel:
			levelStr = "\033[33mWARN \033[0m"
		case zapcore.ErrorLevel:
			levelStr = "\033[31mERROR\033[0m"
		case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
		default:
			levelStr = "UNK  "
		}
		pae.AppendString(levelStr)
	}
	enc.EncodeCaller = func(c zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		pae.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}
	return enc
}

// SetDefaultComponent 设置包级日志函数默认携带的 component 字段
func SetDefaultComponent(component string) {
	mu.Lock()
	defer mu.Unlock()
	defaultFields.Component = component
}

func GetDefaultComponent() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultFields.Component
}

// Named 返回带 component 字段的子 logger，注入给 session/server 等组件使用
func Named(component string) *zap.Logger {
	return GetGlobalLogger().With(zap.String("component", component))
}

func log(level zapcore.Level, msg string, fields ...zapcore.Field) {
	if !loggerInitialized {
		panic("logger not initialized: call logger.InitLogger() first")
	}

	merged := make([]zapcore.Field, 0, len(fields)+2)
	merged = append(merged,
		zap.String("component", GetDefaultComponent()),
		zap.String("goid", strconv.FormatUint(goid.GetGID(), 10)),
	)
	merged = append(merged, fields...)

	l := baseLogger.WithOptions(zap.AddCallerSkip(2))
	switch level {
	case zapcore.DebugLevel:
		l.Debug(msg, merged...)
	case zapcore.InfoLevel:
		l.Info(msg, merged...)
	case zapcore.WarnLevel:
		l.Warn(msg, merged...)
	case zapcore.ErrorLevel:
		l.Error(msg, merged...)
	case zapcore.PanicLevel:
		l.Panic(msg, merged...)
	case zapcore.FatalLevel:
		l.Fatal(msg, merged...)
	}
}

func Debug(msg string, fields ...zapcore.Field) { log(zapcore.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zapcore.Field)  { log(zapcore.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zapcore.Field)  { log(zapcore.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zapcore.Field) { log(zapcore.ErrorLevel, msg, fields...) }
func Panic(msg string, fields ...zapcore.Field) { log(zapcore.PanicLevel, msg, fields...) }
func Fatal(msg string, fields ...zapcore.Field) { log(zapcore.FatalLevel, msg, fields...) }

// Sync 刷盘（忽略 stdout 不支持 fsync 的错误）
func Sync() error {
	if !loggerInitialized {
		return nil
	}
	err := baseLogger.Sync()
	if err != nil && (strings.Contains(err.Error(), "/dev/stdout") || strings.Contains(err.Error(), "inappropriate ioctl")) {
		return nil
	}
	return err
}

// GetGlobalLogger 获取全局实例 zap.Logger
func GetGlobalLogger() *zap.Logger {
	if !loggerInitialized {
		panic("logger not initialized: call logger.InitLogger() first")
	}
	return baseLogger
}
