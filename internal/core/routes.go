package core

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"fairweather/internal/types"
)

const (
	defaultRequestTimeout = 25 * time.Second
	requestIDHeader       = "X-Request-Id"

	errCodeNotFoundRoute types.ErrorCode = "not_found_route"
)

// Credentials that may show up in request headers.
var defaultRedactedHeaders = []string{"Authorization", "Cookie", "X-Api-Key"}

// MountRoutes installs the middleware chain, the /v1 group and /health.
//
// Middleware runs outermost first: panic recovery, request deadline, request
// ID, security headers, access log, CORS, metrics, then gzip.
func (s *Server) MountRoutes() {
	origins := []string{"*"}
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		origins = s.Config.Server.CorsAllowedOrigins
	}

	s.router.Use(
		s.Recoverer,
		ContextTimeoutMiddleware(s.requestTimeout()),
		RequestIDMiddleware,
		s.SecurityHeadersMiddleware,
		RequestLogger(s.Logger, defaultRedactedHeaders),
		NewCORSMiddleware(origins),
		s.MetricsMiddleware,
		CompressionMiddleware,
	)

	s.router.Route("/v1", func(r chi.Router) {
		for _, register := range s.V1RouteRegistrars {
			register(r)
		}
	})
	s.router.Get("/health", s.HandleHealth)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(errCodeNotFoundRoute, "route not found", nil))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusMethodNotAllowed, APIErrorResponse{Error: ErrorDetail{
			Code:      "method_not_allowed",
			Message:   r.Method + " is not supported on " + r.URL.Path,
			RequestID: types.GetRequestID(r.Context()),
		}})
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// ContextTimeoutMiddleware bounds the request context, and with it every
// forecast lookup the handler makes.
func ContextTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware keeps the caller's X-Request-Id or mints a 32 character
// hex ID, then exposes it through the context and the response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			u := uuid.New()
			id = hex.EncodeToString(u[:])
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
	})
}

// CompressionMiddleware gzips responses when the client accepts it.
func CompressionMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
