package httpadapter

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware keeps a caller-supplied correlation ID or mints one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// capture remembers the status and size of a response. Unwrap lets
// http.ResponseController reach Flush and Hijack on the real writer.
type capture struct {
	http.ResponseWriter
	status int
	size   int
}

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *capture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	n, err := c.ResponseWriter.Write(b)
	c.size += n
	return n, err
}

func (c *capture) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &capture{ResponseWriter: w}
		next.ServeHTTP(resp, r)

		status := resp.status
		if status == 0 {
			status = http.StatusOK
		}
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(client); err == nil {
			client = host
		}
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		slog.LogAttrs(r.Context(), level, "http_request",
			slog.String("request_id", requestID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", resp.size),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			slog.String("remote_addr", client),
		)
	})
}

// reject answers a request that never reached a handler and reports why.
func reject(w http.ResponseWriter, status int, code domain.ErrorCode, reason, message string, rejected func(string)) {
	if rejected != nil {
		rejected(reason)
	}
	writeJSON(w, status, errorBody(code, message))
}

// rateLimitMiddleware answers 429 once the shared token bucket is empty.
func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter, rejected func(string)) http.Handler {
	if limiter == nil {
		return next
	}
	wait := 1
	if perSecond := float64(limiter.Limit()); perSecond > 0 && perSecond < 1 {
		wait = int(math.Ceil(1 / perSecond))
	}
	retryAfter := strconv.Itoa(wait)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", retryAfter)
		reject(w, http.StatusTooManyRequests, domain.CodeResourceLimitExceeded, "rate_limit", "rate limit exceeded", rejected)
	})
}

// backpressureMiddleware admits maxInFlight requests at once; the rest queue
// for up to wait and then get 503.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration, rejected func(string)) http.Handler {
	if maxInFlight <= 0 {
		return next
	}
	slots := make(chan struct{}, maxInFlight)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()

		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		case <-ctx.Done():
			if r.Context().Err() != nil {
				return
			}
			w.Header().Set("Retry-After", "1")
			reject(w, http.StatusServiceUnavailable, domain.CodeResourceLimitExceeded, "backpressure", "server is overloaded, retry later", rejected)
		}
	})
}

func apiKeyMiddleware(next http.Handler, apiKey string, rejected func(string)) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			reject(w, http.StatusUnauthorized, domain.CodeInvalidInput, "unauthorized", "unauthorized", rejected)
			return
		}
		next.ServeHTTP(w, r)
	})
}
