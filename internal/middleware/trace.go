package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey int

const traceIDKey contextKey = iota

const (
	TraceIDHeader = "X-Trace-ID"

	maxTraceIDLength = 128
)

// TraceID tags the request with the caller's X-Trace-ID, or a fresh uuid when
// the header is missing or unusable, and echoes it in the response.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}

		w.Header().Set(TraceIDHeader, traceID)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey).(string)
	return traceID
}

// RequestLogger returns base annotated with the request's trace id, if any.
func RequestLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		return base.With(zap.String("trace_id", traceID))
	}
	return base
}

// validTraceID accepts ids that are safe to echo into headers and logs.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}
