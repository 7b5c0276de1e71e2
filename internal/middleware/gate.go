package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/creditgate/backend/internal/abuse"
	"github.com/creditgate/backend/internal/metrics"
)

// GateCollector is the abuse signal collector interface the gate needs.
type GateCollector interface {
	RecordAndClassify(ctx context.Context, address, endpoint, clientSignature string) (abuse.Classification, error)
}

// GateLimiter is the IP-keyed rate limiter interface the gate needs.
type GateLimiter interface {
	Check(ctx context.Context, address, endpoint string) (abuse.Decision, error)
}

// WindowMarker persists a tool-detection block on the pair's rate window.
type WindowMarker interface {
	MarkSuspicious(ctx context.Context, address, endpoint string, until time.Time) error
}

// Gate is the pre-authentication defense layer: it runs the abuse signal
// collector and the IP-keyed limiter before any account lookup. All of its
// own infrastructure errors resolve to "allow" (fail open) under a short
// timeout; the gated operation's availability wins over detection
// completeness.
type Gate struct {
	Collector GateCollector
	Limiter   GateLimiter
	Windows   WindowMarker
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Protect wraps a handler for the named gated endpoint.
func (g *Gate) Protect(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := ClientAddress(r)
			signature := r.Header.Get("User-Agent")

			ctx, cancel := context.WithTimeout(r.Context(), g.Timeout)
			defer cancel()

			cl, err := g.Collector.RecordAndClassify(ctx, address, endpoint, signature)
			if err != nil {
				g.Logger.Warn("abuse collector unavailable, allowing", "endpoint", endpoint, "error", err)
				metrics.GateErrors.WithLabelValues(endpoint, "collector").Inc()
			}
			if cl.Suspicious {
				until := time.Now().UTC().Add(cl.BlockFor)
				if err := g.Windows.MarkSuspicious(ctx, address, endpoint, until); err != nil {
					g.Logger.Warn("mark suspicious failed", "endpoint", endpoint, "error", err)
					metrics.GateErrors.WithLabelValues(endpoint, "mark").Inc()
				}
				g.Logger.Info("tool detected",
					"address", address, "endpoint", endpoint,
					"reason", cl.Reason, "count_10s", cl.Count10s, "count_60s", cl.Count60s)
				metrics.GateDecisions.WithLabelValues(endpoint, abuse.ReasonToolDetected).Inc()
				writeDenied(w, abuse.ReasonToolDetected, int(cl.BlockFor.Minutes()))
				return
			}

			dec, err := g.Limiter.Check(ctx, address, endpoint)
			if err != nil {
				g.Logger.Warn("rate limiter unavailable, allowing", "endpoint", endpoint, "error", err)
				metrics.GateErrors.WithLabelValues(endpoint, "limiter").Inc()
			}
			if !dec.Allowed {
				metrics.GateDecisions.WithLabelValues(endpoint, dec.Reason).Inc()
				writeDenied(w, dec.Reason, dec.RemainingMinutes)
				return
			}

			metrics.GateDecisions.WithLabelValues(endpoint, "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenied(w http.ResponseWriter, reason string, remainingMinutes int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"outcome":%q,"remaining_minutes":%d}`, reason, remainingMinutes)
}

// ClientAddress prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func ClientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
