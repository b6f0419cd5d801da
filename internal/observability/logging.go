// Package observability wires structured logging for ricochet's components
// through zap, following the same logger-wrapper convention fleetd uses.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ricochet.sh/internal/middleware"
)

var (
	globalLogger *Logger
	once         sync.Once
)

type Logger struct {
	*zap.Logger
	fields []zap.Field
}

type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	OutputPath  string // stdout, stderr, or file path
	ServiceName string
	Environment string
	Version     string
}

// InitLogger initializes the global logger.
func InitLogger(config LogConfig) *Logger {
	once.Do(func() {
		globalLogger = NewLogger(config)
	})
	return globalLogger
}

// GetLogger returns the global logger instance.
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPath:  "stdout",
			ServiceName: "ricochet",
			Environment: "development",
			Version:     "unknown",
		})
	}
	return globalLogger
}

// NewLogger creates a new logger instance.
func NewLogger(config LogConfig) *Logger {
	level := zapcore.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "function",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if config.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var output zapcore.WriteSyncer
	switch config.OutputPath {
	case "stdout":
		output = zapcore.AddSync(os.Stdout)
	case "stderr":
		output = zapcore.AddSync(os.Stderr)
	default:
		file, err := os.OpenFile(config.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			output = zapcore.AddSync(os.Stderr)
		} else {
			output = zapcore.AddSync(file)
		}
	}

	core := zapcore.NewCore(encoder, output, level)

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.AddCallerSkip(1),
	)

	defaultFields := []zap.Field{
		zap.String("service", config.ServiceName),
		zap.String("environment", config.Environment),
		zap.String("version", config.Version),
		zap.String("host", getHostname()),
		zap.Int("pid", os.Getpid()),
	}

	return &Logger{
		Logger: logger.With(defaultFields...),
		fields: defaultFields,
	}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		fields: append(l.fields, fields...),
	}
}

// WithContext creates a child logger with context fields.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := []zap.Field{}

	if traceID := ctx.Value(contextKeyTraceID); traceID != nil {
		fields = append(fields, zap.String("trace_id", fmt.Sprintf("%v", traceID)))
	}
	if spanID := ctx.Value(contextKeySpanID); spanID != nil {
		fields = append(fields, zap.String("span_id", fmt.Sprintf("%v", spanID)))
	}
	if correlationID := ctx.Value(contextKeyCorrelationID); correlationID != nil {
		fields = append(fields, zap.String("correlation_id", fmt.Sprintf("%v", correlationID)))
	}

	return l.With(fields...)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.With(zap.Error(err))
}

// WithCallback adds callback-request fields, used by both callback servers.
func (l *Logger) WithCallback(protocol, sourceIP, correlationID string) *Logger {
	return l.With(
		zap.String("protocol", protocol),
		zap.String("source_ip", sourceIP),
		zap.String("correlation_id", correlationID),
	)
}

// WithInjection adds injection-attempt fields.
func (l *Logger) WithInjection(correlationID, vector, targetURL string) *Logger {
	return l.With(
		zap.String("correlation_id", correlationID),
		zap.String("vector", vector),
		zap.String("target_url", targetURL),
	)
}

// WithOperation adds operation tracking fields.
func (l *Logger) WithOperation(operation string, startTime time.Time) *Logger {
	return l.With(
		zap.String("operation", operation),
		zap.Time("operation_start", startTime),
		zap.Duration("operation_duration", time.Since(startTime)),
	)
}

// LogPanic logs panic information and re-panics after logging.
func (l *Logger) LogPanic() {
	if r := recover(); r != nil {
		buf := make([]byte, 1<<16)
		stackSize := runtime.Stack(buf, true)

		l.Error("panic recovered",
			zap.Any("panic", r),
			zap.String("stack", string(buf[:stackSize])),
		)

		panic(r)
	}
}

// Performance logs performance metrics, warning on slow operations.
func (l *Logger) Performance(operation string, duration time.Duration, metadata map[string]interface{}) {
	fields := []zap.Field{
		zap.String("perf_operation", operation),
		zap.Duration("perf_duration", duration),
		zap.Any("perf_metadata", metadata),
	}

	if duration > 5*time.Second {
		l.With(fields...).Warn("slow operation detected")
	} else {
		l.With(fields...).Debug("performance metric")
	}
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

type contextKey string

const (
	contextKeyTraceID       contextKey = "trace_id"
	contextKeySpanID        contextKey = "span_id"
	contextKeyCorrelationID contextKey = "correlation_id"
	contextKeyLogger        contextKey = "logger"
)

// LoggerMiddleware provides HTTP middleware for request logging. The HTTP
// callback server does not use it; it logs requests itself.
func LoggerMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := logger.With(
				zap.String("request_id", generateRequestID()),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()),
			)

			reqLogger.Debug("callback request started",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)

			wrapped := middleware.NewResponseWriter(w)

			ctx := context.WithValue(r.Context(), contextKeyLogger, reqLogger)
			r = r.WithContext(ctx)

			next.ServeHTTP(wrapped, r)

			reqLogger.Debug("callback request completed",
				zap.Int("status", wrapped.StatusCode()),
				zap.Int("bytes", wrapped.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func generateRequestID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}

// ContextLogger extracts a logger from context, falling back to the global one.
func ContextLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKeyLogger).(*Logger); ok {
		return logger
	}
	return GetLogger()
}
