package api

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"secret.share/internal/auth"
	"secret.share/internal/common"
	"secret.share/internal/logging"
	"secret.share/internal/models"
	"secret.share/internal/ratelimit"
)

const unknownClient = "unknown"

type callerKey struct{}

// ClientAddress returns the best-effort client address: the first
// X-Forwarded-For entry, then X-Real-IP, then "unknown". Clients that resolve
// to "unknown" share one rate-limit bucket.
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	return unknownClient
}

// CallerFrom returns the caller stored by the Caller middleware.
func CallerFrom(ctx context.Context) models.CallerContext {
	c, _ := ctx.Value(callerKey{}).(models.CallerContext)
	return c
}

// Caller resolves the request's CallerContext. A missing, malformed or
// expired bearer token leaves the caller anonymous; handlers that need an
// identity reject it themselves.
func Caller(tokens *auth.Issuer, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := models.CallerContext{
				Address:   ClientAddress(r),
				UserAgent: r.UserAgent(),
			}

			if token, ok := bearerToken(r); ok && tokens != nil {
				id, err := tokens.Verify(token)
				if err != nil {
					log.Debug(r.Context(), "ignoring bearer token", "error", err)
				} else {
					caller.AccountID = id.AccountID
					caller.Email = id.Email
				}
			}

			ctx := context.WithValue(r.Context(), callerKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequestID keeps an incoming X-Request-ID or assigns a new one, and exposes
// it through middleware.GetReqID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger writes one access log line per request. It logs the route pattern
// rather than the raw path so slugs never reach the logs.
func Logger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			args := []any{
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				log.Error(r.Context(), "http request", args...)
			} else {
				log.Info(r.Context(), "http request", args...)
			}
		})
	}
}

// CORS allows the configured origins to call the JSON API from a browser.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{
			"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
			middleware.RequestIDHeader,
		},
		MaxAge: 86400,
	})
}

// JSONOnly rejects request bodies that are not declared as JSON.
func JSONOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if r.ContentLength == 0 {
				break
			}
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "application/json" {
				writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{
					Error: "content type must be application/json",
					Code:  string(common.KindBadRequest),
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit admits requests under class, keyed by client address, and sets
// the X-RateLimit-* headers. A nil limiter admits everything without headers.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(class, ClientAddress(r))
			if res.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}
			if !res.Allowed {
				writeRateLimited(w, &common.RateLimitError{ResetAt: res.ResetAt})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
