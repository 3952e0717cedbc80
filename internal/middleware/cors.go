package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS applies the storefront's allowed origin policy.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", GuestIDHeader, "X-Request-ID", "X-Device-ID", "X-Client-Type"},
		ExposedHeaders:   []string{GuestIDHeader, "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
