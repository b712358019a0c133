package middleware

import (
	"net/http"

	"github.com/nadmax/imagegen/internal/httputil"
	"go.uber.org/zap"
)

func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					RequestLogger(r.Context(), logger).Error("Panic recovered",
						zap.String("path", r.URL.Path),
						zap.Any("error", err),
					)

					httputil.WriteJSONError(w, "Internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
