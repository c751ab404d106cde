package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orderline/api/internal/platform/requestctx"
)

// NewLogger builds a JSON logger whose field names match Cloud Logging's
// structured payload. Unknown levels fall back to info.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if lvl := strings.TrimSpace(level); lvl != "" {
		_ = atomic.UnmarshalText([]byte(strings.ToLower(lvl)))
	}

	encoder := zapcore.EncoderConfig{
		MessageKey:    "message",
		TimeKey:       "timestamp",
		LevelKey:      "severity",
		CallerKey:     "caller",
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	cfg := zap.Config{
		Level:             atomic,
		Development:       development,
		Encoding:          "json",
		EncoderConfig:     encoder,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !development,
	}
	return cfg.Build()
}

// FromContext returns the request logger, or base when none was stored.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if requestctx.HasLogger(ctx) {
		return requestctx.Logger(ctx)
	}
	if base == nil {
		return requestctx.NoopLogger()
	}
	return base
}

// EventLogger adapts zap to the event style logger used by the services.
// Events carrying an "error" field are logged at warn level.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := FromContext(ctx, base)
		zfields := make([]zap.Field, 0, len(fields)+1)
		zfields = append(zfields, zap.String("event", event))
		failed := false
		for key, value := range fields {
			if err, ok := value.(error); ok {
				failed = true
				zfields = append(zfields, zap.NamedError(key, err))
				continue
			}
			if key == "error" {
				failed = true
			}
			zfields = append(zfields, zap.Any(key, value))
		}
		if failed {
			logger.Warn(event, zfields...)
			return
		}
		logger.Info(event, zfields...)
	}
}

// PrintfAdapter exposes zap through Printf for libraries that expect it.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
	level  zapcore.Level
}

// NewPrintfAdapter logs every Printf call at level.
func NewPrintfAdapter(logger *zap.Logger, level zapcore.Level) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar(), level: level}
}

// Printf implements kafka.Logger.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Logf(a.level, format, args...)
}
