package middleware

import (
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/util"
)

var requestIDRx = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)

// RequestIDMiddleware keeps a well-formed upstream X-Request-ID and mints one
// otherwise.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(util.RequestIDHeader)
		if !requestIDRx.MatchString(rid) {
			rid = uuid.NewString()
		}
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set(util.RequestIDHeader, rid)
		next.ServeHTTP(w, r)
	})
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request. Paths can carry the webhook
// secret, so only the route pattern prefix is logged for those.
func RequestLogger(log zerolog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			ev := log.Info()
			if sr.status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", redactPath(r.URL.Path)).
				Int("status", sr.status).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("request_id", RequestID(r.Context())).
				Str("remote_ip", ClientIP(r, trustProxy)).
				Msg("request")
		})
	}
}

func redactPath(p string) string {
	if strings.HasPrefix(p, "/telegram/") {
		return "/telegram/***"
	}
	return p
}
