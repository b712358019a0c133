package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the frontend at origin to call the API and read the trace id
// header. Preflight requests are answered without reaching the handler.
func CORS(origin string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", TraceIDHeader},
		ExposedHeaders: []string{TraceIDHeader},
		MaxAge:         300,
	})
}
