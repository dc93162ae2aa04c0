package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	sugared *zap.SugaredLogger
)

func init() {
	l, err := build("development", "info")
	if err != nil {
		panic(err)
	}
	sugared = l
}

// Init 按运行环境重建全局 logger，env=production 输出 JSON
func Init(env, level string) error {
	l, err := build(env, level)
	if err != nil {
		return err
	}
	mu.Lock()
	sugared = l
	mu.Unlock()
	return nil
}

func build(env, level string) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

func Info(msg string, keysAndValues ...any) {
	get().Infow(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	get().Warnw(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	get().Errorw(msg, keysAndValues...)
}

func Debug(msg string, keysAndValues ...any) {
	get().Debugw(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	get().Fatalw(msg, keysAndValues...)
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	_ = get().Sync()
}
