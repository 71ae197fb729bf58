package server

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/HerbHall/swarmnet/internal/version"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarm_http_requests_total",
			Help: "Ops HTTP requests by route and status code.",
		},
		[]string{"method", "route", "code"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swarm_http_request_duration_seconds",
			Help:    "Ops HTTP request latency by route.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency)
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps handler so that mw[0] runs first.
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

type pathSet map[string]struct{}

func newPathSet(paths []string) pathSet {
	s := make(pathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s pathSet) has(p string) bool {
	_, ok := s[p]
	return ok
}

type requestIDKey struct{}

const maxRequestIDLen = 64

// RequestID returns the ID attached by RequestIDMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDMiddleware echoes a caller's X-Request-ID when it is short and
// printable, and otherwise assigns a fresh UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// LoggingMiddleware records every request in the HTTP metrics and writes
// one access log line per request outside quiet. Server errors log at
// Error, client errors at Warn. It must run inside the mux's caller so
// r.Pattern is populated by the time the handler returns.
func LoggingMiddleware(logger *zap.Logger, quiet []string) Middleware {
	skip := newPathSet(quiet)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := routeLabel(r)
			httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.code)).Inc()
			httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())

			if skip.has(r.URL.Path) {
				return
			}
			if ce := logger.Check(accessLevel(rec.code), "http request"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", route),
					zap.Int("status", rec.code),
					zap.Int("bytes", rec.bytes),
					zap.Duration("duration", elapsed),
					zap.String("peer", clientIP(r)),
					zap.String("request_id", RequestID(r.Context())),
				)
			}
		})
	}
}

func accessLevel(code int) zapcore.Level {
	switch {
	case code >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case code >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// routeLabel is the mux pattern that matched r, so /api/v1/devices/{mac}
// is one series rather than one per MAC.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

// SecurityHeadersMiddleware adds browser hardening headers and disables caching.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// VersionHeaderMiddleware stamps the build version on every response.
func VersionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Swarmnet-Version", version.Short())
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a handler panic into a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("handler panic",
						zap.Any("panic", v),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestID(r.Context())),
					)
					InternalError(w, "an unexpected error occurred", r.URL.Path)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware gives each peer address its own token bucket of rps
// with the given burst. Paths in exempt bypass the limit. A rejected
// request gets 429 with Retry-After in whole seconds.
func RateLimitMiddleware(rps float64, burst int, exempt []string) Middleware {
	pl := newPeerLimiter(rate.Limit(rps), burst)
	skip := newPathSet(exempt)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip.has(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if wait, ok := pl.reserve(clientIP(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				RateLimited(w, "rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const (
	maxPeers    = 4096
	peerIdleTTL = 10 * time.Minute
)

type peer struct {
	bucket *rate.Limiter
	seen   time.Time
}

// peerLimiter holds one token bucket per peer. When it reaches maxPeers it
// forgets peers idle for longer than peerIdleTTL.
type peerLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu    sync.Mutex
	peers map[string]*peer
}

func newPeerLimiter(limit rate.Limit, burst int) *peerLimiter {
	return &peerLimiter{
		limit: limit,
		burst: burst,
		now:   time.Now,
		peers: make(map[string]*peer),
	}
}

// reserve takes a token for addr. When none is available it reports how
// long until one would be.
func (l *peerLimiter) reserve(addr string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	p, ok := l.peers[addr]
	if !ok {
		if len(l.peers) >= maxPeers {
			l.evictIdle(now)
		}
		p = &peer{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.peers[addr] = p
	}
	p.seen = now

	if p.bucket.AllowN(now, 1) {
		return 0, true
	}
	r := p.bucket.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	if wait <= 0 {
		wait = time.Second
	}
	return wait, false
}

func (l *peerLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-peerIdleTTL)
	for addr, p := range l.peers {
		if p.seen.Before(cutoff) {
			delete(l.peers, addr)
		}
	}
}

// clientIP is the TCP peer address without port. X-Forwarded-For is not
// consulted; the ops listener is not deployed behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the status code and body size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	code    int
	bytes   int
	written bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.written {
		s.code = code
		s.written = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.written = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}
