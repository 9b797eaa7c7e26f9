package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

type contextKey string

// ContextKeyProjectName is the context key the hook auth middleware sets
// before this middleware runs, identifying which project's bucket to
// charge.
const ContextKeyProjectName contextKey = "project_name"

// MiddlewareConfig configures the HTTP middleware.
type MiddlewareConfig struct {
	Limiter *Limiter

	SkipPaths []string

	ErrorHandler func(w http.ResponseWriter, r *http.Request, err *Error)

	// ProjectExtractor pulls the project name out of the request; defaults
	// to reading ContextKeyProjectName.
	ProjectExtractor func(r *http.Request) string

	DetailedLogging bool
	Logger          *slog.Logger
}

// DefaultMiddlewareConfig returns middleware config with sensible defaults.
func DefaultMiddlewareConfig(limiter *Limiter) MiddlewareConfig {
	return MiddlewareConfig{
		Limiter:          limiter,
		SkipPaths:        []string{"/health", "/metrics", "/debug"},
		ErrorHandler:     defaultErrorHandler,
		ProjectExtractor: defaultProjectExtractor,
		DetailedLogging:  false,
		Logger:           slog.Default(),
	}
}

// Middleware returns HTTP middleware enforcing the per-project bucket on
// every request whose path isn't in SkipPaths.
func Middleware(config MiddlewareConfig) func(http.Handler) http.Handler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultErrorHandler
	}
	if config.ProjectExtractor == nil {
		config.ProjectExtractor = defaultProjectExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			projectName := config.ProjectExtractor(r)
			if projectName == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetAt, err := config.Limiter.Allow(r.Context(), projectName)
			if err != nil {
				config.Logger.Error("rate limit check failed", "error", err, "project", projectName)
				// Fail open: a Redis outage must not block hook ingestion.
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.Limiter.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

			if !allowed {
				rlErr := NewError(remaining, resetAt)
				retryAfterSeconds := int(rlErr.RetryAfter.Seconds())
				if retryAfterSeconds < 1 {
					retryAfterSeconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))

				if config.DetailedLogging {
					config.Logger.Warn("rate limit exceeded",
						"project", projectName, "remaining", remaining, "reset_at", resetAt)
				}

				config.ErrorHandler(w, r, rlErr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "Too Many Requests",
		"remaining":   err.Remaining,
		"reset_at":    err.ResetAt.Format(time.RFC3339),
		"retry_after": int(err.RetryAfter.Seconds()),
	})
}

func defaultProjectExtractor(r *http.Request) string {
	if name, ok := r.Context().Value(ContextKeyProjectName).(string); ok {
		return name
	}
	return ""
}

func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skip := range skipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}
