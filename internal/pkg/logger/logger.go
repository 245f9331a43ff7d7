// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger 是全局的 zerolog 实例，由 Init 初始化
var Logger zerolog.Logger

// Init 初始化全局 logger，所有服务在 main 中最先调用
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	zlog.Logger = Logger
}

// Ctx 从 context 中取出 logger；如果上游没有注入过，退回全局 logger
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &Logger
	}
	return l
}

// WithTraceID 把 trace_id 附加到 logger 上并存回 context，供 handler 链路使用
func WithTraceID(ctx context.Context, traceID string) context.Context {
	l := Logger.With().Str("trace_id", traceID).Logger()
	return l.WithContext(ctx)
}
