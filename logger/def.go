package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"

	// SessionKey 会话日志字段名
	SessionKey = "session"
)

// Init 按配置的模式和级别初始化 logger（供 main 调用）
func Init(mode, level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch mode {
	case ModeProduction, "":
		return InitProduction(lvl)
	case ModeDevelopment:
		return InitDevelopment(lvl)
	default:
		return fmt.Errorf("unknown log mode %q", mode)
	}
}

// InitProduction 初始化一个 production logger（JSON 输出）
func InitProduction(level zapcore.Level) error {
	return build(zap.NewProductionConfig(), level)
}

// InitDevelopment 初始化一个 development logger（更友好地输出到控制台）
func InitDevelopment(level zapcore.Level) error {
	return build(zap.NewDevelopmentConfig(), level)
}

func build(cfg zap.Config, level zapcore.Level) error {
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	setLogger(l)
	return nil
}

// Use 替换当前 logger（测试中可传入 zaptest/observer logger）
func Use(l *zap.Logger) {
	setLogger(l)
}

// setLogger 内部设置并替换 zap 全局 logger
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	// 替换 zap 全局（可使 zap.L()/zap.S() 返回相同实例）
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log 返回 *zap.Logger（非 nil）
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	// 如果还没初始化，返回 zap 的全局（可能是 noop）
	return zap.L()
}

// S 返回 *zap.SugaredLogger（非 nil）
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// ForSession 返回带 session 字段的子 logger
func ForSession(id string) *zap.Logger {
	return Log().With(zap.String(SessionKey, id))
}

// Sync flush logs
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
