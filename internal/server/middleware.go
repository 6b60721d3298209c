package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dinghy-sh/dinghy/internal/authgate"
	"github.com/dinghy-sh/dinghy/internal/metrics"
	"github.com/dinghy-sh/dinghy/internal/rate"
)

// unknownClient is the shared bucket for requests whose origin IP cannot be
// determined. All such clients throttle together; an accepted degradation.
const unknownClient = "unknown"

// clientIP prefers the edge-supplied header over the transport address so the
// limiter keys on the real client behind a proxy.
func clientIP(c *gin.Context) string {
	if ip := c.GetHeader("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return unknownClient
}

// observe records one counter sample per request, labeled by route template
// and status class.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status()/100) + "xx"
		metrics.RequestsTotal.WithLabelValues(route, status).Inc()
	}
}

// rateLimit admits or rejects every inbound request by client IP before any
// other work happens.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c)

		err := s.limiter.Admit(c.Request.Context(), ip)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, rate.ErrRateLimited):
			metrics.RateLimitedTotal.Inc()
			if retry, rerr := s.limiter.RetryAfter(c.Request.Context(), ip); rerr == nil && retry > 0 {
				c.Header("Retry-After", strconv.Itoa(retrySeconds(retry)))
			}
			c.String(http.StatusTooManyRequests, "Rate limit exceeded")
			c.Abort()
		default:
			metrics.StorageErrorsTotal.WithLabelValues("rate").Inc()
			s.log.Error("rate limiter backend failure", zap.String("ip", ip), zap.Error(err))
			c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
			c.Abort()
		}
	}
}

// retrySeconds converts a remaining wait into whole seconds for the
// Retry-After header, rounding up so a client honoring the header never
// retries into the same window.
func retrySeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// requireAuth wraps the credential check in the per-IP failure backoff.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c)

		err := s.auth.Check(c.Request.Context(), ip, c.GetHeader("Authorization"))
		var locked *authgate.LockedError
		switch {
		case err == nil:
			c.Next()
		case errors.As(err, &locked):
			metrics.LockoutRejectionsTotal.Inc()
			seconds := int(locked.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.String(http.StatusTooManyRequests,
				"Too many failed auth attempts. Please retry after %d seconds.", seconds)
			c.Abort()
		case errors.Is(err, authgate.ErrUnauthorized):
			metrics.AuthFailuresTotal.Inc()
			c.Header("WWW-Authenticate", `Basic realm="dinghy"`)
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
		default:
			metrics.StorageErrorsTotal.WithLabelValues("auth").Inc()
			s.log.Error("auth backoff backend failure", zap.String("ip", ip), zap.Error(err))
			c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
			c.Abort()
		}
	}
}
