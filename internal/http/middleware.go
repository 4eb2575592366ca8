package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/idempotency"
	"github.com/robertarktes/busticket/internal/observability"
	"github.com/robertarktes/busticket/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

// maxIdempotentBody covers the largest POST body, a profile picture.
const maxIdempotentBody = maxPictureBytes

type loggerKey struct{}

// LoggerFrom returns the request-scoped logger, or a no-op one outside a
// request.
func LoggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey{}).(observability.Logger); ok {
		return l
	}
	return observability.NewNopLogger()
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionResolver turns the opaque session id a client holds into a session.
type SessionResolver interface {
	Resolve(ctx context.Context, id string) (*session.Session, error)
}

// AuthMiddleware requires "Authorization: Bearer <session id>". Websocket
// upgrades may pass the id as the session query parameter instead.
func AuthMiddleware(sessions SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := bearer(r)
			if id == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				id = r.URL.Query().Get("session")
			}
			s, err := sessions.Resolve(r.Context(), id)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := session.NewContext(r.Context(), s)
			ctx = context.WithValue(ctx, loggerKey{}, LoggerFrom(ctx).WithField("user_id", s.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func RequireRole(role domain.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := session.FromContext(r.Context())
			if !ok {
				writeError(w, r, domain.ErrUnauthorized)
				return
			}
			if !s.HasRole(role) {
				writeError(w, r, domain.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) bool
}

// RateLimitMiddleware limits per client IP, and per user once a session is
// in the context.
func RateLimitMiddleware(rl Limiter, perIP, perUser int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, rate := "ip:"+clientIP(r), perIP
			if s, ok := session.FromContext(r.Context()); ok {
				key, rate = "user:"+s.UserID, perUser
			}
			if !rl.Allow(r.Context(), key, rate, time.Minute) {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "Demasiadas solicitudes. Intente en un momento."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// IdempotencyMiddleware replays the stored answer of a POST carrying an
// already seen Idempotency-Key. It needs a session: keys are scoped to the
// user and bound to the request body, and a key reused with another body is
// rejected. Server errors are not stored so the client may retry them.
func IdempotencyMiddleware(store IdempotencyStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			s, authed := session.FromContext(r.Context())
			if r.Method != http.MethodPost || key == "" || !authed {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 || len(key) > 128 {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: "Idempotency-Key inválida."})
				return
			}
			key = r.URL.Path + ":" + s.UserID + ":" + key

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				writeError(w, r, errors.Mark(errors.Wrap(err, "read request body"), domain.ErrInvalidInput))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			bodyHash := hex.EncodeToString(sum[:])

			ctx := r.Context()
			logger := LoggerFrom(ctx)
			if resp, err := store.Get(ctx, key); err != nil {
				logger.Warn("idempotency lookup failed: ", err)
			} else if resp != nil {
				if resp.RequestHash != bodyHash {
					writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "idempotency_key_reused", Message: "La Idempotency-Key ya se usó con otra solicitud."})
					return
				}
				w.Header().Set("Content-Type", resp.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(resp.Status)
				w.Write(resp.Result)
				return
			}

			claimed, err := store.Claim(ctx, key)
			if err != nil {
				logger.Warn("idempotency claim failed: ", err)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				writeJSON(w, http.StatusConflict, errorBody{Error: "request_in_progress", Message: "La solicitud ya se está procesando."})
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
					logger.Warn("idempotency release failed: ", err)
				}
			}()

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= 500 {
				return
			}
			resp := idempotency.Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				RequestHash: bodyHash,
				Result:      buf.Bytes(),
			}
			if err := store.Set(context.WithoutCancel(ctx), key, resp); err != nil {
				logger.Warn("idempotency store failed: ", err)
			}
		})
	}
}
