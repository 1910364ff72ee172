package logger

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Service     string
	Level       string // debug | info | warn | error
	Development bool
}

var global atomic.Pointer[zap.Logger]

// New собирает zap-логгер и делает его глобальным для Error ниже.
func New(conf Config) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if s := strings.ToLower(strings.TrimSpace(conf.Level)); s != "" {
		if err := lvl.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", conf.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if conf.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	if conf.Service != "" {
		l = l.With(zap.String("service", conf.Service))
	}
	global.Store(l)
	return l, nil
}

// Error пишет в глобальный логгер там, где *zap.Logger не прокинут.
// До New сообщения теряются.
func Error(format string, args ...any) {
	if l := global.Load(); l != nil {
		l.Error(fmt.Sprintf(format, args...))
	}
}
